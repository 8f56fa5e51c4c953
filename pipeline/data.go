package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-emotion/training"
	"github.com/tsawler/go-emotion/vision/dataset"
	"github.com/tsawler/go-emotion/vision/preprocessing"
)

// prepared is the decoded and standardized data shared by every stage
type prepared struct {
	train   training.Split
	test    training.Split
	testSet *dataset.ImageFolderDataset
	scaler  preprocessing.ScalerState
}

// load decodes both image folders once. The scaler is fit on the training
// images only and applied to both splits.
func (r *Runner) load(ctx context.Context) (*prepared, error) {
	if r.data != nil {
		return r.data, nil
	}

	loader := preprocessing.NewGrayscaleLoader(r.cfg.ImageSize)
	if r.cfg.CacheSize > 0 {
		loader.Cache = preprocessing.NewCache(r.cfg.CacheSize)
	}

	trainSet, train, err := r.loadFolder(ctx, loader, r.cfg.TrainDir)
	if err != nil {
		return nil, fmt.Errorf("load training images: %w", err)
	}
	testSet, test, err := r.loadFolder(ctx, loader, r.cfg.TestDir)
	if err != nil {
		return nil, fmt.Errorf("load test images: %w", err)
	}

	var scaler preprocessing.StandardScaler
	state, err := scaler.Fit(train.Features)
	if err != nil {
		return nil, err
	}
	if train.Features, err = scaler.Transform(state, train.Features); err != nil {
		return nil, err
	}
	if test.Features, err = scaler.Transform(state, test.Features); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"train":    trainSet.Len(),
		"test":     testSet.Len(),
		"features": train.Dim(),
	}).Info("data loaded")

	r.data = &prepared{train: train, test: test, testSet: testSet, scaler: state}
	return r.data, nil
}

func (r *Runner) loadFolder(ctx context.Context, loader *preprocessing.GrayscaleLoader, dir string) (*dataset.ImageFolderDataset, training.Split, error) {
	if err := ctx.Err(); err != nil {
		return nil, training.Split{}, err
	}
	set, err := dataset.NewImageFolderDataset(dir, r.labels, nil)
	if err != nil {
		return nil, training.Split{}, err
	}
	r.log.WithField("dir", dir).Debug(set.String())

	split, err := loader.LoadSplit(set.Paths(), set.Labels(), r.cfg.Workers)
	if err != nil {
		return nil, training.Split{}, err
	}
	return set, split, nil
}
