package config

import (
	"strings"

	"github.com/Brownie44l1/cattlecare-api/internal/history"
	"github.com/Brownie44l1/cattlecare-api/internal/imaging"
	"github.com/Brownie44l1/cattlecare-api/internal/model"
)

const nonCattle = model.NonCattle

func (c *Config) masterKey() string {
	if c.Models.Master.Key == "" {
		return "master"
	}
	return c.Models.Master.Key
}

// RegistryConfig converts the model section into registry specs, filling
// per-model gaps from the shared input size and layout.
func (c *Config) RegistryConfig() model.RegistryConfig {
	master := c.spec(c.Models.Master)
	master.Key = c.masterKey()

	specialists := make([]model.Spec, 0, len(c.Models.Specialists))
	for _, s := range c.Models.Specialists {
		specialists = append(specialists, c.spec(s))
	}
	return model.RegistryConfig{Master: master, Specialists: specialists}
}

func (c *Config) spec(m ModelConfig) model.Spec {
	width, height := m.InputWidth, m.InputHeight
	if width <= 0 {
		width = c.Models.InputWidth
	}
	if height <= 0 {
		height = c.Models.InputHeight
	}
	layout := m.Layout
	if layout == "" {
		layout = c.Models.Layout
	}

	return model.Spec{
		Key:         m.Key,
		Name:        m.Name,
		Path:        m.Path,
		Labels:      model.LabelSource{ClassesFile: m.ClassesFile, Classes: m.Classes},
		InputWidth:  width,
		InputHeight: height,
		Layout:      imaging.Layout(strings.ToLower(layout)),
		Softmax:     m.Softmax,
		InputName:   m.InputName,
		OutputName:  m.OutputName,
	}
}

// ImageLimits bounds uploads accepted by the normalizer.
func (c *Config) ImageLimits() imaging.Limits {
	return imaging.Limits{MaxBytes: c.Server.MaxUploadBytes, MaxPixels: c.Image.MaxPixels}
}

// HistoryStoreConfig converts the history section for history.New.
func (c *Config) HistoryStoreConfig() history.Config {
	r := c.History.Redis
	return history.Config{
		Driver:     c.History.Driver,
		MaxEntries: c.History.MaxEntries,
		SQLite:     &history.SQLiteConfig{Path: c.History.SQLitePath},
		Redis: &history.RedisConfig{
			Addr:     r.Addr,
			Username: r.Username,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		},
	}
}
