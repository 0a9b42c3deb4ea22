package config

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var ErrMissingValue = errors.New("config: missing value")

// Impressum is operator-supplied HTML shown under the challenge pages.
type Impressum struct {
	Footer string `json:"footer"`
}

func (i Impressum) Render(_ context.Context, w io.Writer) error {
	_, err := fmt.Fprint(w, i.Footer)
	return err
}

func (i Impressum) Valid() error {
	if len(i.Footer) == 0 {
		return fmt.Errorf("%w: impressum footer must be defined", ErrMissingValue)
	}

	return nil
}
