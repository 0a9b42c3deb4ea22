// Package config loads the optional YAML file that tunes captchad.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wpgarts/captcha"
	"k8s.io/apimachinery/pkg/util/yaml"
)

var (
	ErrInvalidLength    = errors.New("config.Challenge: length must be between 1 and 32")
	ErrInvalidAlphabet  = errors.New("config.Challenge: alphabet needs at least two distinct characters")
	ErrAmbiguousChars   = errors.New("config.Challenge: alphabet may only use characters from " + captcha.Alphabet)
	ErrInvalidTTL       = errors.New("config.Challenge: ttl must be positive")
	ErrInvalidImageSize = errors.New("config.Image: width and height must be between 1 and 2048")
)

// Duration is a time.Duration written as a Go duration string ("15m").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"15m\": %w", err)
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(v)
	return nil
}

type Challenge struct {
	Length   int      `json:"length"`
	Alphabet string   `json:"alphabet"`
	TTL      Duration `json:"ttl"`
}

func (c Challenge) Valid() error {
	var errs []error

	if c.Length < 1 || c.Length > 32 {
		errs = append(errs, fmt.Errorf("%w, got %d", ErrInvalidLength, c.Length))
	}

	seen := map[rune]struct{}{}
	for _, r := range c.Alphabet {
		seen[r] = struct{}{}
	}
	if len(seen) < 2 || !utf8.ValidString(c.Alphabet) {
		errs = append(errs, ErrInvalidAlphabet)
	}

	// Lookalikes such as 0/O and 1/I are left out of the default set.
	if i := strings.IndexFunc(c.Alphabet, func(r rune) bool {
		return !strings.ContainsRune(captcha.Alphabet, r)
	}); i != -1 {
		r, _ := utf8.DecodeRuneInString(c.Alphabet[i:])
		errs = append(errs, fmt.Errorf("%w, got %q", ErrAmbiguousChars, r))
	}

	if c.TTL <= 0 {
		errs = append(errs, fmt.Errorf("%w, got %s", ErrInvalidTTL, time.Duration(c.TTL)))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

type Image struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Font   string `json:"font,omitempty"`
}

func (i Image) Valid() error {
	if i.Width < 1 || i.Width > 2048 || i.Height < 1 || i.Height > 2048 {
		return fmt.Errorf("%w, got %dx%d", ErrInvalidImageSize, i.Width, i.Height)
	}

	return nil
}

type Config struct {
	Store     Store      `json:"store"`
	Challenge Challenge  `json:"challenge"`
	Image     Image      `json:"image"`
	Impressum *Impressum `json:"impressum,omitempty"`
}

// Default is the configuration used when no file is given: an in-memory
// store and the stock challenge and image settings.
func Default() *Config {
	return &Config{
		Store: Store{
			Backend:    "memory",
			Parameters: json.RawMessage(`{}`),
		},
		Challenge: Challenge{
			Length:   captcha.DefaultAnswerLength,
			Alphabet: captcha.Alphabet,
			TTL:      Duration(captcha.DefaultChallengeTTL),
		},
		Image: Image{
			Width:  captcha.DefaultImageWidth,
			Height: captcha.DefaultImageHeight,
		},
	}
}

func (c *Config) Valid() error {
	var errs []error

	if err := c.Store.Valid(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Challenge.Valid(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Image.Valid(); err != nil {
		errs = append(errs, err)
	}

	if c.Impressum != nil {
		if err := c.Impressum.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("config is not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

// Load decodes YAML (or JSON) from fin on top of Default and validates the
// result. Fields the file leaves out keep their defaults.
func Load(fin io.Reader, fname string) (*Config, error) {
	c := Default()

	if err := yaml.NewYAMLToJSONDecoder(fin).Decode(c); err != nil {
		return nil, fmt.Errorf("can't parse config YAML %s: %w", fname, err)
	}

	if err := c.Valid(); err != nil {
		return nil, fmt.Errorf("config %s: %w", fname, err)
	}

	return c, nil
}

// LoadOrDefault loads fname, or returns Default when fname is empty.
func LoadOrDefault(fname string) (*Config, error) {
	if fname == "" {
		return Default(), nil
	}

	fin, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("can't open config file %s: %w", fname, err)
	}
	defer fin.Close()

	return Load(fin, fname)
}
