// Package hub resolves model and adapter identifiers against local directories and
// the Hugging Face cache layout.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/23skdu/longbow-kurdish/internal/inference"
)

const (
	DefaultRevision = "main"

	AdapterConfigFile    = "adapter_config.json"
	ModelConfigFile      = "config.json"
	GenerationConfigFile = "generation_config.json"
)

var (
	ErrNotFound  = errors.New("model not found")
	ErrInvalidID = errors.New("invalid model id")
)

// DefaultCacheDir returns ~/.cache/huggingface/hub.
func DefaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", "huggingface", "hub"), nil
}

type Resolver struct {
	CacheDir string
}

func NewResolver(cacheDir string) *Resolver {
	return &Resolver{CacheDir: cacheDir}
}

// IsLocalPath reports whether id names a filesystem path rather than a hub repo.
func IsLocalPath(id string) bool {
	return strings.HasPrefix(id, "/") || strings.HasPrefix(id, "./") ||
		strings.HasPrefix(id, "../") || id == "." || filepath.IsAbs(id)
}

// Resolve maps id to a Source. Local paths must exist. Hub ids ("org/name" or
// "org/name@rev") resolve to a cached snapshot when one exists; otherwise Path is
// left empty so the backend downloads by id.
func (r *Resolver) Resolve(id string) (inference.Source, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return inference.Source{}, fmt.Errorf("%w: empty", ErrInvalidID)
	}

	if IsLocalPath(id) {
		abs, err := filepath.Abs(id)
		if err != nil {
			return inference.Source{}, fmt.Errorf("resolve %s: %w", id, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return inference.Source{}, fmt.Errorf("%w: %s", ErrNotFound, abs)
			}
			return inference.Source{}, fmt.Errorf("resolve %s: %w", id, err)
		}
		if !info.IsDir() {
			return inference.Source{}, fmt.Errorf("%w: %s is not a directory", ErrNotFound, abs)
		}
		return inference.Source{ID: id, Path: abs}, nil
	}

	repo, rev, err := ParseID(id)
	if err != nil {
		return inference.Source{}, err
	}

	src := inference.Source{ID: repo, Revision: rev}
	if r.CacheDir == "" {
		return src, nil
	}
	snapshot, err := r.snapshotPath(repo, rev)
	if err != nil {
		return src, nil
	}
	src.Path = snapshot
	return src, nil
}

// ParseID splits "org/name@rev" into repo and revision.
func ParseID(id string) (repo, rev string, err error) {
	repo, rev = id, DefaultRevision
	if i := strings.LastIndex(id, "@"); i >= 0 {
		repo, rev = id[:i], id[i+1:]
		if rev == "" {
			return "", "", fmt.Errorf("%w: %q has an empty revision", ErrInvalidID, id)
		}
	}
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q (want org/name)", ErrInvalidID, id)
	}
	return repo, rev, nil
}

// snapshotPath follows <cache>/models--org--name/refs/<rev> to its snapshot. A
// revision that is already a commit hash is looked up directly.
func (r *Resolver) snapshotPath(repo, rev string) (string, error) {
	repoDir := filepath.Join(r.CacheDir, "models--"+strings.ReplaceAll(repo, "/", "--"))

	commit := rev
	if ref, err := os.ReadFile(filepath.Join(repoDir, "refs", rev)); err == nil {
		commit = strings.TrimSpace(string(ref))
	}

	snapshot := filepath.Join(repoDir, "snapshots", commit)
	info, err := os.Stat(snapshot)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, snapshot)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrNotFound, snapshot)
	}
	return snapshot, nil
}

// AdapterConfig is the subset of a PEFT adapter_config.json the loader checks.
type AdapterConfig struct {
	PeftType            string   `json:"peft_type"`
	TaskType            string   `json:"task_type"`
	BaseModelNameOrPath string   `json:"base_model_name_or_path"`
	R                   int      `json:"r"`
	LoraAlpha           float64  `json:"lora_alpha"`
	LoraDropout         float64  `json:"lora_dropout"`
	TargetModules       []string `json:"target_modules"`
	InferenceMode       bool     `json:"inference_mode"`
}

func ReadAdapterConfig(dir string) (*AdapterConfig, error) {
	var cfg AdapterConfig
	if err := readJSON(filepath.Join(dir, AdapterConfigFile), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the adapter is a LoRA adapter trained on base.
func (c *AdapterConfig) Validate(base string) error {
	if !strings.EqualFold(c.PeftType, "LORA") {
		return fmt.Errorf("adapter peft_type is %q, want LORA", c.PeftType)
	}
	if c.R <= 0 {
		return fmt.Errorf("adapter rank r=%d must be positive", c.R)
	}
	if c.BaseModelNameOrPath != "" && !sameModel(c.BaseModelNameOrPath, base) {
		return fmt.Errorf("adapter was trained on %q, not %q", c.BaseModelNameOrPath, base)
	}
	return nil
}

func sameModel(a, b string) bool {
	norm := func(s string) string {
		s = strings.TrimRight(strings.TrimSpace(s), "/")
		if i := strings.LastIndex(s, "@"); i >= 0 {
			s = s[:i]
		}
		return strings.ToLower(s)
	}
	return norm(a) == norm(b)
}

// ModelConfig is the subset of config.json and generation_config.json read from a
// local base model snapshot.
type ModelConfig struct {
	ModelType           string `json:"model_type"`
	VocabSize           int    `json:"vocab_size"`
	MaxLength           int    `json:"max_length"`
	NumBeams            int    `json:"num_beams"`
	DecoderStartTokenID int32  `json:"decoder_start_token_id"`
}

// ReadModelConfig reads config.json and overlays generation_config.json if present.
func ReadModelConfig(dir string) (*ModelConfig, error) {
	var cfg ModelConfig
	if err := readJSON(filepath.Join(dir, ModelConfigFile), &cfg); err != nil {
		return nil, err
	}
	var gen ModelConfig
	if err := readJSON(filepath.Join(dir, GenerationConfigFile), &gen); err == nil {
		if gen.MaxLength > 0 {
			cfg.MaxLength = gen.MaxLength
		}
		if gen.NumBeams > 0 {
			cfg.NumBeams = gen.NumBeams
		}
		if gen.DecoderStartTokenID != 0 {
			cfg.DecoderStartTokenID = gen.DecoderStartTokenID
		}
	}
	return &cfg, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
