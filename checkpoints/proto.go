package checkpoints

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// The protobuf format stores a checkpoint as a google.protobuf.Struct so
// that any protobuf runtime can read it without a generated schema. Creation
// time is kept as the seconds and nanos of a google.protobuf.Timestamp.

func marshalProto(checkpoint *Checkpoint) ([]byte, error) {
	ts := timestamppb.New(checkpoint.Metadata.CreatedAt)
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint timestamp: %w", err)
	}

	weights := make([]*structpb.Value, len(checkpoint.Weights))
	for i, w := range checkpoint.Weights {
		weights[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"name":  structpb.NewStringValue(w.Name),
			"shape": intList(w.Shape),
			"data":  floatList(w.Data),
		}})
	}

	tags := make([]*structpb.Value, len(checkpoint.Metadata.Tags))
	for i, tag := range checkpoint.Metadata.Tags {
		tags[i] = structpb.NewStringValue(tag)
	}

	state := checkpoint.TrainingState
	root := &structpb.Struct{Fields: map[string]*structpb.Value{
		"model_name": structpb.NewStringValue(checkpoint.ModelName),
		"weights":    structpb.NewListValue(&structpb.ListValue{Values: weights}),
		"training_state": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"fold":          structpb.NewNumberValue(float64(state.Fold)),
			"epoch":         structpb.NewNumberValue(float64(state.Epoch)),
			"learning_rate": structpb.NewNumberValue(state.LearningRate),
			"best_loss":     structpb.NewNumberValue(state.BestLoss),
			"best_accuracy": structpb.NewNumberValue(state.BestAccuracy),
			"epochs_run":    structpb.NewNumberValue(float64(state.EpochsRun)),
			"stopped_early": structpb.NewBoolValue(state.StoppedEarly),
		}}),
		"metadata": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"version":     structpb.NewStringValue(checkpoint.Metadata.Version),
			"framework":   structpb.NewStringValue(checkpoint.Metadata.Framework),
			"run_id":      structpb.NewStringValue(checkpoint.Metadata.RunID),
			"description": structpb.NewStringValue(checkpoint.Metadata.Description),
			"tags":        structpb.NewListValue(&structpb.ListValue{Values: tags}),
			"created_at": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				"seconds": structpb.NewNumberValue(float64(ts.GetSeconds())),
				"nanos":   structpb.NewNumberValue(float64(ts.GetNanos())),
			}}),
		}}),
	}}

	data, err := proto.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return data, nil
}

func unmarshalProto(data []byte) (*Checkpoint, error) {
	var root structpb.Struct
	if err := proto.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	fields := root.GetFields()
	checkpoint := &Checkpoint{
		ModelName: fields["model_name"].GetStringValue(),
	}

	for i, v := range fields["weights"].GetListValue().GetValues() {
		wf := v.GetStructValue().GetFields()
		if wf == nil {
			return nil, fmt.Errorf("weight %d is not a struct", i)
		}
		checkpoint.Weights = append(checkpoint.Weights, WeightTensor{
			Name:  wf["name"].GetStringValue(),
			Shape: toInts(wf["shape"]),
			Data:  toFloats(wf["data"]),
		})
	}

	sf := fields["training_state"].GetStructValue().GetFields()
	checkpoint.TrainingState = TrainingState{
		Fold:         int(sf["fold"].GetNumberValue()),
		Epoch:        int(sf["epoch"].GetNumberValue()),
		LearningRate: sf["learning_rate"].GetNumberValue(),
		BestLoss:     sf["best_loss"].GetNumberValue(),
		BestAccuracy: sf["best_accuracy"].GetNumberValue(),
		EpochsRun:    int(sf["epochs_run"].GetNumberValue()),
		StoppedEarly: sf["stopped_early"].GetBoolValue(),
	}

	mf := fields["metadata"].GetStructValue().GetFields()
	created := mf["created_at"].GetStructValue().GetFields()
	ts := &timestamppb.Timestamp{
		Seconds: int64(created["seconds"].GetNumberValue()),
		Nanos:   int32(created["nanos"].GetNumberValue()),
	}
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint timestamp: %w", err)
	}
	checkpoint.Metadata = CheckpointMetadata{
		Version:     mf["version"].GetStringValue(),
		Framework:   mf["framework"].GetStringValue(),
		CreatedAt:   ts.AsTime(),
		RunID:       mf["run_id"].GetStringValue(),
		Description: mf["description"].GetStringValue(),
	}
	for _, tag := range mf["tags"].GetListValue().GetValues() {
		checkpoint.Metadata.Tags = append(checkpoint.Metadata.Tags, tag.GetStringValue())
	}

	return checkpoint, nil
}

func intList(values []int) *structpb.Value {
	list := make([]*structpb.Value, len(values))
	for i, v := range values {
		list[i] = structpb.NewNumberValue(float64(v))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

func floatList(values []float64) *structpb.Value {
	list := make([]*structpb.Value, len(values))
	for i, v := range values {
		list[i] = structpb.NewNumberValue(v)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

func toInts(v *structpb.Value) []int {
	values := v.GetListValue().GetValues()
	out := make([]int, len(values))
	for i, x := range values {
		out[i] = int(x.GetNumberValue())
	}
	return out
}

func toFloats(v *structpb.Value) []float64 {
	values := v.GetListValue().GetValues()
	out := make([]float64, len(values))
	for i, x := range values {
		out[i] = x.GetNumberValue()
	}
	return out
}
