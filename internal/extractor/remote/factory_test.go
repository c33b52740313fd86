package remote

import (
	"testing"

	"cratenlp/internal/config"

	"github.com/sirupsen/logrus"
)

func TestBuildFromProcessorConfigRequiresCloudURL(t *testing.T) {
	_, err := BuildFromProcessorConfig(
		config.ProcessorConfig{Name: "crp", ExtractorType: "remote"},
		config.CloudConfig{},
		testLogger(),
	)
	if err == nil {
		t.Fatal("expected an error when cloud_url is missing")
	}
}

func TestBuildFromProcessorConfigWiresClientFromCloudConfig(t *testing.T) {
	extractor, err := BuildFromProcessorConfig(
		config.ProcessorConfig{Name: "crp", ExtractorType: "remote", Options: map[string]string{"version": "2.0"}},
		config.CloudConfig{
			CloudURL:             "https://nlp.example.test/nlprp",
			Username:             "svc",
			Password:             "secret",
			Compress:             true,
			MaxTries:             5,
			MaxRecordsPerRequest: 50,
			MaxContentLength:     1024,
			StopAtFailure:        true,
		},
		logrus.New(),
	)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if extractor.processorName != "crp" || extractor.version != "2.0" {
		t.Fatalf("unexpected binding: name=%s version=%s", extractor.processorName, extractor.version)
	}
	if extractor.cfg.MaxRecordsPerRequest != 50 {
		t.Fatalf("expected max_records_per_request 50, got %d", extractor.cfg.MaxRecordsPerRequest)
	}
	if !extractor.cfg.StopAtFailure {
		t.Fatal("expected stop_at_failure to be carried through")
	}
}
