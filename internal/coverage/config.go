package coverage

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultWorksetSize is the batch size used when none is configured.
	DefaultWorksetSize = 100

	// BibliographicWorksetSize is the smaller batch size used by providers
	// that create license pools and works.
	BibliographicWorksetSize = 10
)

var validate = validator.New()

// Config identifies a provider and tunes how the engine drives it.
type Config struct {
	// ServiceName names the watermark. Defaults to the provider name, with
	// the operation appended when set.
	ServiceName string
	// Provider is the output data source name that records are stored under.
	Provider string `validate:"required"`
	// Operation distinguishes several kinds of coverage from one provider.
	Operation       string
	IdentifierTypes []string `validate:"dive,required"`
	WorksetSize     int      `validate:"gte=1"`
	// CutoffTime marks records older than it as stale. Zero means records
	// never go stale.
	CutoffTime time.Time
	// Concurrency is how many items of a batch are processed at once.
	Concurrency int `validate:"gte=1"`
}

// BibliographicConfig returns the configuration used for authoritative
// license sources.
func BibliographicConfig(source string, identifierTypes ...string) Config {
	return Config{
		ServiceName:     source + " Bibliographic Monitor",
		Provider:        source,
		IdentifierTypes: identifierTypes,
		WorksetSize:     BibliographicWorksetSize,
	}
}

func (c Config) withDefaults() Config {
	if c.WorksetSize == 0 {
		c.WorksetSize = DefaultWorksetSize
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.ServiceName == "" {
		c.ServiceName = c.Provider
		if c.Operation != "" {
			c.ServiceName += " (" + c.Operation + ")"
		}
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if err := validate.Struct(c.withDefaults()); err != nil {
		return fmt.Errorf("invalid coverage config: %w", err)
	}
	return nil
}
