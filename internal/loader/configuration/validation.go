package configuration

import (
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// CustomHooks replaces viper's default decode hooks, so the defaults are composed back in.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		AuthModeHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)),
}

// AuthModeHookFunc decodes auth modes case-insensitively and rejects unknown modes at load time.
func AuthModeHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != reflect.TypeOf(AuthModeNone) {
			return data, nil
		}
		return ParseAuthMode(reflect.ValueOf(data).String())
	}
}

func ParseAuthMode(s string) (AuthMode, error) {
	switch mode := AuthMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case AuthModeNone, AuthModeBasic, AuthModeAws:
		return mode, nil
	case "":
		return AuthModeNone, nil
	default:
		return "", errors.Errorf("unknown auth mode %q, valid modes are none, basic and aws", s)
	}
}

// Load decodes the configuration held by v and validates it.
func Load(v *viper.Viper) (Config, error) {
	var config Config
	if err := v.Unmarshal(&config, CustomHooks...); err != nil {
		return config, errors.Wrap(err, "decoding configuration")
	}
	if config.Backend.AuthMode == AuthModeAws {
		config.Backend.UseTls = true
	}
	if err := config.Validate(); err != nil {
		LogValidationErrors(err)
		return config, err
	}
	return config, nil
}

func (c Config) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(metricsPortRange, Config{})
	return validate.Struct(c)
}

// metricsPortRange rejects a metrics port that leaves no room for the ports of the workers above it.
func metricsPortRange(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)
	if c.MetricsPort > 0 && int(c.MetricsPort)+c.TotalRanks > math.MaxUint16 {
		sl.ReportError(c.MetricsPort, "MetricsPort", "MetricsPort", metricsPortRangeTag, "")
	}
}

const metricsPortRangeTag = "metrics_port_range"

func LogValidationErrors(err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return
	}
	for _, err := range validationErrors {
		fieldName := stripPrefix(err.Namespace())
		tag := err.Tag()
		switch tag {
		case "required", "required_if":
			log.Errorf("ConfigError: Field %s is required but was not found", fieldName)
		case metricsPortRangeTag:
			log.Errorf("ConfigError: Field %s is %v, which leaves no worker port below %d", fieldName, err.Value(), math.MaxUint16+1)
		default:
			log.Errorf("ConfigError: Field %s has invalid value %v: %s", fieldName, err.Value(), tag)
		}
	}
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}
