package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFlickr(); err != nil {
		return err
	}
	if err := c.validateAugment(); err != nil {
		return err
	}
	if err := c.validateDataset(); err != nil {
		return err
	}
	if err := c.validateTraining(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateFlickr() error {
	if err := ensurePositiveMap(map[string]int{
		"flickr.requests_per_minute": c.Flickr.RequestsPerMinute,
		"flickr.request_timeout":     c.Flickr.RequestTimeout,
	}); err != nil {
		return err
	}
	if strings.TrimSpace(c.Flickr.UserAgent) == "" {
		return errors.New("flickr.user_agent must be set")
	}
	return nil
}

func (c *Config) validateAugment() error {
	if c.Augment.Probability < 0 || c.Augment.Probability > 1 {
		return errors.New("augment.probability must be between 0 and 1")
	}
	if c.Augment.MinSide < 1 {
		return errors.New("augment.min_side must be >= 1")
	}
	if c.Augment.MaxSide < c.Augment.MinSide {
		return errors.New("augment.max_side must be >= augment.min_side")
	}
	return nil
}

func (c *Config) validateDataset() error {
	if c.Dataset.ImageSize < 8 {
		return errors.New("dataset.image_size must be >= 8")
	}
	switch c.Dataset.Interpolation {
	case "nearest", "bilinear", "catmullrom":
	default:
		return fmt.Errorf("dataset.interpolation must be one of nearest, bilinear, catmullrom; got %q", c.Dataset.Interpolation)
	}
	fractions := map[string]float64{
		"dataset.train_fraction":      c.Dataset.TrainFraction,
		"dataset.validation_fraction": c.Dataset.ValidationFraction,
		"dataset.test_fraction":       c.Dataset.TestFraction,
	}
	for key, value := range fractions {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", key)
		}
	}
	sum := c.Dataset.TrainFraction + c.Dataset.ValidationFraction + c.Dataset.TestFraction
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("dataset partition fractions must sum to 1.0, got %.6f", sum)
	}
	return nil
}

func (c *Config) validateTraining() error {
	if c.Training.BatchSize < 1 {
		return errors.New("training.batch_size must be >= 1")
	}
	if c.Training.LearningRate <= 0 {
		return errors.New("training.learning_rate must be positive")
	}
	if c.Training.Momentum < 0 || c.Training.Momentum >= 1 {
		return errors.New("training.momentum must be in [0, 1)")
	}
	if c.Training.EarlyStopPatience < 0 {
		return errors.New("training.early_stop_patience must be >= 0")
	}
	if c.Training.EarlyStopTolerance < 0 {
		return errors.New("training.early_stop_tolerance must be >= 0")
	}
	if c.Training.CheckpointInterval < 0 {
		return errors.New("training.checkpoint_interval must be >= 0")
	}
	if c.Training.TargetAccuracy < 0 || c.Training.TargetAccuracy > 1 {
		return errors.New("training.target_accuracy must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
