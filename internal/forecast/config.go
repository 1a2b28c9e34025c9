package forecast

import "fmt"

// Config enumerates the training hyperparameters of one forecast request.
type Config struct {
	WindowLength int     `mapstructure:"window_length"`
	BatchSize    int     `mapstructure:"batch_size"`
	Epochs       int     `mapstructure:"epochs"`
	LearningRate float64 `mapstructure:"learning_rate"`
	HiddenSize   int     `mapstructure:"hidden_size"`
	NumLayers    int     `mapstructure:"num_layers"`
	Horizon      int     `mapstructure:"horizon"`
	Seed         int64   `mapstructure:"seed"`
}

// ExecutionConfig controls how much compute a single request may use.
// Workers bounds the goroutines computing per-sample gradients inside a mini-batch.
type ExecutionConfig struct {
	Workers int `mapstructure:"workers"`
}

// DefaultConfig returns the defaults used when a caller leaves fields unset.
func DefaultConfig() Config {
	return Config{
		WindowLength: 120,
		BatchSize:    32,
		Epochs:       20,
		LearningRate: 1e-3,
		HiddenSize:   64,
		NumLayers:    1,
		Horizon:      7,
		Seed:         42,
	}
}

// DefaultExecution pins a request to a single worker.
func DefaultExecution() ExecutionConfig {
	return ExecutionConfig{Workers: 1}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.WindowLength == 0 {
		c.WindowLength = def.WindowLength
	}
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Epochs == 0 {
		c.Epochs = def.Epochs
	}
	if c.LearningRate == 0 {
		c.LearningRate = def.LearningRate
	}
	if c.HiddenSize == 0 {
		c.HiddenSize = def.HiddenSize
	}
	if c.NumLayers == 0 {
		c.NumLayers = def.NumLayers
	}
	if c.Horizon == 0 {
		c.Horizon = def.Horizon
	}
	return c
}

// Validate rejects hyperparameters the pipeline cannot run with.
func (c Config) Validate() error {
	if c.WindowLength <= 0 {
		return fmt.Errorf("window_length must be greater than zero")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be greater than zero")
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be greater than zero")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be greater than zero")
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("hidden_size must be greater than zero")
	}
	if c.NumLayers <= 0 {
		return fmt.Errorf("num_layers must be greater than zero")
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be greater than zero")
	}
	return nil
}

func (e ExecutionConfig) workers() int {
	if e.Workers <= 0 {
		return 1
	}
	return e.Workers
}
