package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/zerocopy/pkg/memory"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("power_of_two", func(fl validator.FieldLevel) bool {
			return memory.IsPowerOfTwo(fl.Field().Uint())
		})
	})
	return validate
}

// Validate checks struct tags and the constraints that span several fields.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if err := cfg.Instance.SlotConfig().Validate(); err != nil {
		return err
	}
	if cfg.Producer.PayloadSize > cfg.Instance.SlotSize {
		return fmt.Errorf("producer.payload_size %s exceeds instance.slot_size %s",
			cfg.Producer.PayloadSize, cfg.Instance.SlotSize)
	}
	rec := cfg.Consumer.Recorder
	if rec.Enabled && rec.Type == "s3" && rec.S3.Bucket == "" {
		return errors.New("consumer.recorder.s3.bucket is required for the s3 recorder")
	}
	return nil
}

// formatValidationErrors renders one line per failed field, naming the tag
// that failed.
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed '%s=%s' (value: %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value: %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
