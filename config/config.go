package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Service struct {
	URL string `yaml:"url"`
}
type Services struct {
	VAD            Service `yaml:"vad"`
	Embedding      Service `yaml:"embedding"`
	Separation     Service `yaml:"separation"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}
type Audio struct {
	// SampleRate is the rate the embedding service expects.
	SampleRate int `yaml:"sample_rate"`
}
type Pipeline struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogLvl  string `yaml:"log_level"`
}
type Paths struct {
	Data        string `yaml:"data"`
	Outputs     string `yaml:"outputs"`
	Cache       string `yaml:"cache"`
	Separation  string `yaml:"separation"`
	MetricsFile string `yaml:"metrics_file"`
}
type Segmentation struct {
	ChunkDuration       float64 `yaml:"chunk_duration"`
	MergeTolerance      float64 `yaml:"merge_tolerance"`
	IncompleteTolerance float64 `yaml:"incomplete_tolerance"`
	EndTolerance        float64 `yaml:"end_tolerance"`
	SafetyAdvance       float64 `yaml:"safety_advance"`
	VADThreshold        float64 `yaml:"vad_threshold"`
	MinSpeechMs         int     `yaml:"min_speech_ms"`
	MinSilenceMs        int     `yaml:"min_silence_ms"`
}
type Clustering struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MinAnalysisSeconds  float64 `yaml:"min_analysis_seconds"`
	EmbeddingCache      bool    `yaml:"embedding_cache"`
}
type Reference struct {
	MinDuration        float64 `yaml:"min_duration"`
	TargetDuration     float64 `yaml:"target_duration"`
	OvershootFactor    float64 `yaml:"overshoot_factor"`
	MidpointBonus      float64 `yaml:"midpoint_bonus"`
	ClusterMaxDuration float64 `yaml:"cluster_max_duration"`
	ClusterMaxCount    int     `yaml:"cluster_max_count"`
}
type Logging struct {
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}
type Retry struct {
	MaxRetries int `yaml:"max_retries"`
}
type Root struct {
	Pipeline     Pipeline     `yaml:"pipeline"`
	Audio        Audio        `yaml:"audio"`
	Services     Services     `yaml:"services"`
	Paths        Paths        `yaml:"paths"`
	Segmentation Segmentation `yaml:"segmentation"`
	Clustering   Clustering   `yaml:"clustering"`
	Reference    Reference    `yaml:"reference"`
	Logging      Logging      `yaml:"logging"`
	Retry        Retry        `yaml:"retry"`
}

// DefaultBaseURL serves every oracle when nothing else is configured.
const DefaultBaseURL = "http://localhost:8000"

func Default() *Root {
	return &Root{
		Pipeline: Pipeline{Name: "voiceline", Version: "1", LogLvl: "info"},
		Audio:    Audio{SampleRate: 16000},
		Services: Services{TimeoutSeconds: 60},
		Paths: Paths{
			Data:       "data",
			Outputs:    "outputs",
			Cache:      filepath.Join("data", "cache"),
			Separation: filepath.Join("data", "separation"),
		},
		Segmentation: Segmentation{
			ChunkDuration:       30,
			MergeTolerance:      0.5,
			IncompleteTolerance: 0.1,
			EndTolerance:        0.05,
			SafetyAdvance:       1,
			VADThreshold:        0.5,
			MinSpeechMs:         250,
			MinSilenceMs:        300,
		},
		Clustering: Clustering{SimilarityThreshold: 0.65, MinAnalysisSeconds: 0.4, EmbeddingCache: true},
		Reference: Reference{
			MinDuration:        5,
			TargetDuration:     10,
			OvershootFactor:    1.5,
			MidpointBonus:      10,
			ClusterMaxDuration: 30,
			ClusterMaxCount:    3,
		},
		Logging: Logging{Format: "text", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// Load builds the configuration: defaults, then the YAML file, then
// VOICELINE_* environment variables and any flags bound on v (may be nil).
// An empty path searches config/<CONFIG_ENV>/config.yaml and config.yaml;
// finding neither is not an error.
func Load(path string, v *viper.Viper) (*Root, error) {
	cfg := Default()
	if path == "" {
		path = locate()
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.overlay(v)
	cfg.fillServiceURLs()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func locate() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	for _, p := range []string{
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// bindings maps overridable keys to their fields.
func (r *Root) bindings() map[string]any {
	return map[string]any{
		"pipeline.log_level":                &r.Pipeline.LogLvl,
		"audio.sample_rate":                 &r.Audio.SampleRate,
		"services.vad.url":                  &r.Services.VAD.URL,
		"services.embedding.url":            &r.Services.Embedding.URL,
		"services.separation.url":           &r.Services.Separation.URL,
		"services.timeout_seconds":          &r.Services.TimeoutSeconds,
		"paths.data":                        &r.Paths.Data,
		"paths.outputs":                     &r.Paths.Outputs,
		"paths.cache":                       &r.Paths.Cache,
		"paths.separation":                  &r.Paths.Separation,
		"paths.metrics_file":                &r.Paths.MetricsFile,
		"segmentation.chunk_duration":       &r.Segmentation.ChunkDuration,
		"segmentation.merge_tolerance":      &r.Segmentation.MergeTolerance,
		"segmentation.incomplete_tolerance": &r.Segmentation.IncompleteTolerance,
		"segmentation.end_tolerance":        &r.Segmentation.EndTolerance,
		"segmentation.safety_advance":       &r.Segmentation.SafetyAdvance,
		"segmentation.vad_threshold":        &r.Segmentation.VADThreshold,
		"segmentation.min_speech_ms":        &r.Segmentation.MinSpeechMs,
		"segmentation.min_silence_ms":       &r.Segmentation.MinSilenceMs,
		"clustering.similarity_threshold":   &r.Clustering.SimilarityThreshold,
		"clustering.min_analysis_seconds":   &r.Clustering.MinAnalysisSeconds,
		"clustering.embedding_cache":        &r.Clustering.EmbeddingCache,
		"reference.min_duration":            &r.Reference.MinDuration,
		"reference.target_duration":         &r.Reference.TargetDuration,
		"reference.overshoot_factor":        &r.Reference.OvershootFactor,
		"reference.midpoint_bonus":          &r.Reference.MidpointBonus,
		"reference.cluster_max_duration":    &r.Reference.ClusterMaxDuration,
		"reference.cluster_max_count":       &r.Reference.ClusterMaxCount,
		"logging.format":                    &r.Logging.Format,
		"logging.file":                      &r.Logging.File,
		"retry.max_retries":                 &r.Retry.MaxRetries,
	}
}

func (r *Root) overlay(v *viper.Viper) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("VOICELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, dst := range r.bindings() {
		if !v.IsSet(key) {
			continue
		}
		switch d := dst.(type) {
		case *string:
			*d = v.GetString(key)
		case *int:
			*d = v.GetInt(key)
		case *float64:
			*d = v.GetFloat64(key)
		case *bool:
			*d = v.GetBool(key)
		}
	}
}

// fillServiceURLs points unset services at M4T_API_URL, or DefaultBaseURL.
func (r *Root) fillServiceURLs() {
	base := os.Getenv("M4T_API_URL")
	if base == "" {
		base = DefaultBaseURL
	}
	base = strings.TrimRight(base, "/")
	for _, s := range []*Service{&r.Services.VAD, &r.Services.Embedding, &r.Services.Separation} {
		if s.URL == "" {
			s.URL = base
		}
		s.URL = strings.TrimRight(s.URL, "/")
	}
}

func (r *Root) Validate() error {
	var errs []error
	s := r.Segmentation
	if s.ChunkDuration <= 0 {
		errs = append(errs, errors.New("segmentation.chunk_duration must be positive"))
	}
	if s.MergeTolerance < 0 || s.IncompleteTolerance < 0 || s.EndTolerance < 0 {
		errs = append(errs, errors.New("segmentation tolerances must not be negative"))
	}
	if s.SafetyAdvance <= 0 {
		errs = append(errs, errors.New("segmentation.safety_advance must be positive"))
	}
	if s.VADThreshold < 0 || s.VADThreshold > 1 {
		errs = append(errs, errors.New("segmentation.vad_threshold must be within [0,1]"))
	}
	if t := r.Clustering.SimilarityThreshold; t < 0 || t > 1 {
		errs = append(errs, errors.New("clustering.similarity_threshold must be within [0,1]"))
	}
	if r.Clustering.MinAnalysisSeconds < 0 {
		errs = append(errs, errors.New("clustering.min_analysis_seconds must not be negative"))
	}
	if r.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	ref := r.Reference
	if ref.MinDuration > ref.TargetDuration {
		errs = append(errs, errors.New("reference.min_duration exceeds reference.target_duration"))
	}
	if ref.OvershootFactor < 1 {
		errs = append(errs, errors.New("reference.overshoot_factor must be at least 1"))
	}
	if ref.ClusterMaxCount <= 0 || ref.ClusterMaxDuration <= 0 {
		errs = append(errs, errors.New("reference cluster limits must be positive"))
	}
	if r.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func DurSeconds(n int) time.Duration { return time.Duration(n) * time.Second }
