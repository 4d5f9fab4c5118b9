package config

const (
	defaultDataDir              = "~/.local/share/stencil/data"
	defaultDatasetsDir          = "~/.local/share/stencil/datasets"
	defaultExperimentsDir       = "~/.local/share/stencil/experiments"
	defaultLogDir               = "~/.local/share/stencil/logs"
	defaultLogRetentionDays     = 60
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultFlickrBaseURL        = "https://api.flickr.com/services/rest"
	defaultFlickrUserAgent      = "Stencil/dev"
	defaultFlickrRequestsPerMin = 60
	defaultFlickrTimeoutSecs    = 15
	defaultAugmentProbability   = 0.5
	defaultAugmentMinSide       = 8
	defaultAugmentMaxSide       = 16
	defaultImageSize            = 64
	defaultInterpolation        = "bilinear"
	defaultTrainFraction        = 0.8
	defaultValidationFraction   = 0.1
	defaultTestFraction         = 0.1
	defaultBatchSize            = 100
	defaultLearningRate         = 0.001
	defaultMomentum             = 0.1
	defaultEarlyStopTolerance   = 1e-4
	defaultCheckpointInterval   = 10
	defaultNotifyTimeoutSecs    = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:        defaultDataDir,
			DatasetsDir:    defaultDatasetsDir,
			ExperimentsDir: defaultExperimentsDir,
			LogDir:         defaultLogDir,
			CacheDir:       defaultCacheDir(),
		},
		Flickr: Flickr{
			BaseURL:           defaultFlickrBaseURL,
			UserAgent:         defaultFlickrUserAgent,
			RequestsPerMinute: defaultFlickrRequestsPerMin,
			RequestTimeout:    defaultFlickrTimeoutSecs,
		},
		Augment: Augment{
			Probability: defaultAugmentProbability,
			MinSide:     defaultAugmentMinSide,
			MaxSide:     defaultAugmentMaxSide,
		},
		Dataset: Dataset{
			ImageSize:          defaultImageSize,
			Interpolation:      defaultInterpolation,
			TrainFraction:      defaultTrainFraction,
			ValidationFraction: defaultValidationFraction,
			TestFraction:       defaultTestFraction,
			DecodeCache:        true,
		},
		Training: Training{
			BatchSize:          defaultBatchSize,
			LearningRate:       defaultLearningRate,
			Momentum:           defaultMomentum,
			EarlyStopTolerance: defaultEarlyStopTolerance,
			CheckpointInterval: defaultCheckpointInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeoutSecs,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
