package remote

import (
	"cratenlp/internal/config"
	"cratenlp/internal/nlprp"
	apperrors "cratenlp/pkg/errors"

	"github.com/sirupsen/logrus"
)

// BuildFromProcessorConfig builds a RemoteExtractor from a
// [processor:NAME] section whose extractor_type is "remote", plus the
// [cloud:NAME] section it names via the owning [nlpdef:NAME]'s
// cloud_config field.
func BuildFromProcessorConfig(pc config.ProcessorConfig, cloud config.CloudConfig, logger *logrus.Logger) (*Extractor, error) {
	if cloud.CloudURL == "" {
		return nil, apperrors.ConfigError("remote", "BuildFromProcessorConfig",
			apperrors.CodeConfigInvalid, "processor "+pc.Name+": cloud_url is required for a remote extractor")
	}

	version := pc.Options["version"]

	client := nlprp.NewClient(nlprp.ClientConfig{
		BaseURL:       cloud.CloudURL,
		Username:      cloud.Username,
		Password:      cloud.Password,
		Compress:      cloud.Compress,
		MaxTries:      cloud.MaxTries,
		WaitOnConnErr: cloud.WaitOnConnErr,
		RateLimitHz:   cloud.RateLimitHz,
	}, logger)

	return New(pc.Name, version, client, Config{
		MaxRecordsPerRequest:  cloud.MaxRecordsPerRequest,
		MaxContentLengthBytes: cloud.MaxContentLength,
		StopAtFailure:         cloud.StopAtFailure,
	}), nil
}
