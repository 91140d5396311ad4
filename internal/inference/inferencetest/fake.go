// Package inferencetest provides an in-memory inference backend for tests. It
// "translates" by transliterating between Latin and Arabic script so output is
// deterministic and script membership can be asserted.
package inferencetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/23skdu/longbow-kurdish/internal/inference"
)

const (
	BOS int32 = 0
	PAD int32 = 1
	EOS int32 = 2
	UNK int32 = 3

	runeOffset int32 = 1000
	tagOffset  int32 = 2_000_000
)

var specialNames = map[int32]string{BOS: "<s>", PAD: "<pad>", EOS: "</s>", UNK: "<unk>"}

var latinToArabic = []struct{ latin, arabic rune }{
	{'a', 'ا'}, {'b', 'ب'}, {'c', 'چ'}, {'d', 'د'}, {'e', 'ە'}, {'f', 'ف'},
	{'g', 'گ'}, {'h', 'ه'}, {'i', 'ی'}, {'j', 'ج'}, {'k', 'ک'}, {'l', 'ل'},
	{'m', 'م'}, {'n', 'ن'}, {'o', 'ۆ'}, {'p', 'پ'}, {'q', 'ق'}, {'r', 'ر'},
	{'s', 'س'}, {'t', 'ت'}, {'u', 'و'}, {'v', 'ڤ'}, {'w', 'و'}, {'x', 'خ'},
	{'y', 'ێ'}, {'z', 'ز'},
	{',', '،'}, {'?', '؟'}, {';', '؛'},
}

// Backend is a fake inference.Backend. Error fields are read on each call, so a
// test can flip them between calls.
type Backend struct {
	mu sync.Mutex

	Tags []string

	LoadErr     error
	EncodeErr   error
	TokenErr    error
	GenerateErr error
	DecodeErr   error

	// GenerateHook runs before each generation; a non-nil error fails the call.
	GenerateHook func(ctx context.Context) error

	Loads     atomic.Int64
	Encodes   atomic.Int64
	Generates atomic.Int64
	Decodes   atomic.Int64

	LastSpec     inference.ModelSpec
	LastGenerate inference.GenerateOptions
	LastEncode   inference.EncodeOptions
}

func New(tags ...string) *Backend {
	if len(tags) == 0 {
		tags = []string{"eng_Latn", "ckb_Arab"}
	}
	return &Backend{Tags: tags}
}

func (b *Backend) Load(ctx context.Context, spec inference.ModelSpec) (inference.Model, error) {
	n := b.Loads.Add(1)
	b.mu.Lock()
	b.LastSpec = spec
	err := b.LoadErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := &Model{
		backend: b,
		tagIDs:  make(map[string]int32, len(b.Tags)),
		idTags:  make(map[int32]string, len(b.Tags)),
		forward: make(map[rune]rune),
		reverse: make(map[rune]rune),
		info: inference.ModelInfo{
			ID:       fmt.Sprintf("fake-%d", n),
			Base:     spec.Base.ID,
			Adapter:  spec.Adapter.ID,
			Device:   "cpu",
			LoadedAt: time.Now(),
		},
	}
	for i, tag := range b.Tags {
		id := tagOffset + int32(i)
		m.tagIDs[tag] = id
		m.idTags[id] = tag
	}
	for _, p := range latinToArabic {
		m.forward[p.latin] = p.arabic
		if _, ok := m.reverse[p.arabic]; !ok {
			m.reverse[p.arabic] = p.latin
		}
	}
	return m, nil
}

// Configure runs fn with the backend locked, for tests that change error fields
// while another goroutine is calling in.
func (b *Backend) Configure(fn func(b *Backend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

// Calls is a locked copy of the last arguments the backend saw.
type Calls struct {
	Spec     inference.ModelSpec
	Encode   inference.EncodeOptions
	Generate inference.GenerateOptions
}

func (b *Backend) Last() Calls {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Calls{Spec: b.LastSpec, Encode: b.LastEncode, Generate: b.LastGenerate}
}

func (b *Backend) errFor(field *error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *field
}

// Model is the handle returned by Backend.Load.
type Model struct {
	backend *Backend
	info    inference.ModelInfo
	tagIDs  map[string]int32
	idTags  map[int32]string
	forward map[rune]rune
	reverse map[rune]rune
}

func (m *Model) Info() inference.ModelInfo {
	return m.info
}

// TagID returns the id the fake assigns to a language tag.
func (m *Model) TagID(tag string) int32 {
	return m.tagIDs[tag]
}

func (m *Model) Encode(ctx context.Context, text string, opts inference.EncodeOptions) (*inference.Encoding, error) {
	m.backend.Encodes.Add(1)
	m.backend.mu.Lock()
	m.backend.LastEncode = opts
	m.backend.mu.Unlock()
	if err := m.backend.errFor(&m.backend.EncodeErr); err != nil {
		return nil, err
	}

	src, ok := m.tagIDs[opts.SourceLang]
	if !ok {
		return nil, fmt.Errorf("encode: unknown source language %q", opts.SourceLang)
	}

	ids := []int32{src}
	for _, r := range text {
		ids = append(ids, runeOffset+int32(r))
	}
	ids = append(ids, EOS)

	truncated := false
	if opts.MaxLength > 0 && len(ids) > opts.MaxLength {
		if !opts.Truncation {
			return nil, fmt.Errorf("encode: %d tokens exceed max_length %d", len(ids), opts.MaxLength)
		}
		ids = append(ids[:opts.MaxLength-1], EOS)
		truncated = true
	}

	mask := make([]int32, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return &inference.Encoding{InputIDs: [][]int32{ids}, AttentionMask: [][]int32{mask}, Truncated: truncated}, nil
}

func (m *Model) TokenToID(ctx context.Context, token string) (int32, error) {
	if err := m.backend.errFor(&m.backend.TokenErr); err != nil {
		return 0, err
	}
	if id, ok := m.tagIDs[token]; ok {
		return id, nil
	}
	for id, name := range specialNames {
		if name == token {
			return id, nil
		}
	}
	if r := []rune(token); len(r) == 1 {
		return runeOffset + int32(r[0]), nil
	}
	return 0, fmt.Errorf("%w: %q", inference.ErrUnknownToken, token)
}

func (m *Model) Generate(ctx context.Context, enc *inference.Encoding, opts inference.GenerateOptions) ([][]int32, error) {
	m.backend.Generates.Add(1)
	m.backend.mu.Lock()
	m.backend.LastGenerate = opts
	hook := m.backend.GenerateHook
	m.backend.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if err := m.backend.errFor(&m.backend.GenerateErr); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if enc == nil || len(enc.InputIDs) == 0 {
		return nil, fmt.Errorf("generate: empty encoding")
	}

	target, ok := m.idTags[opts.ForcedBOSTokenID]
	if !ok {
		return nil, fmt.Errorf("generate: forced bos %d is not a language tag", opts.ForcedBOSTokenID)
	}
	toArabic := strings.HasSuffix(target, "_Arab")

	out := []int32{EOS, opts.ForcedBOSTokenID}
	for _, id := range enc.InputIDs[0] {
		if id < runeOffset || id >= tagOffset {
			continue
		}
		r := unicode.ToLower(rune(id - runeOffset))
		if toArabic {
			if mapped, ok := m.forward[r]; ok {
				r = mapped
			}
		} else if mapped, ok := m.reverse[r]; ok {
			r = mapped
		}
		out = append(out, runeOffset+int32(r))
	}
	out = append(out, EOS)

	if opts.MaxLength > 0 && len(out) > opts.MaxLength {
		out = append(out[:opts.MaxLength-1], EOS)
	}
	return [][]int32{out}, nil
}

func (m *Model) Decode(ctx context.Context, ids []int32, opts inference.DecodeOptions) (string, error) {
	m.backend.Decodes.Add(1)
	if err := m.backend.errFor(&m.backend.DecodeErr); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, id := range ids {
		switch {
		case id >= tagOffset:
			if !opts.SkipSpecialTokens {
				sb.WriteString(m.idTags[id])
			}
		case id < runeOffset:
			if !opts.SkipSpecialTokens {
				sb.WriteString(specialNames[id])
			}
		default:
			sb.WriteRune(rune(id - runeOffset))
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
