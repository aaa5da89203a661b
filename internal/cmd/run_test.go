package cmd

import (
	"testing"

	"github.com/omni-build/omni/internal/pipeline"
)

func TestBuildPipelineConfigMapsForceAndOnFailure(t *testing.T) {
	rf := &runFlags{force: "all", onFailure: "continue", noCache: true, dryRun: true}
	cfg, err := buildPipelineConfig(rf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Force != pipeline.ForceAll {
		t.Errorf("expected ForceAll, got %v", cfg.Force)
	}
	if cfg.OnFailure != pipeline.OnFailureContinue {
		t.Errorf("expected OnFailureContinue, got %v", cfg.OnFailure)
	}
	if !cfg.NoCache || !cfg.DryRun {
		t.Error("expected NoCache and DryRun to be carried through")
	}
}

func TestBuildPipelineConfigDefaultsToForceNone(t *testing.T) {
	cfg, err := buildPipelineConfig(&runFlags{onFailure: "abort"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Force != pipeline.ForceNone {
		t.Errorf("expected ForceNone for an empty --force, got %v", cfg.Force)
	}
}

func TestBuildPipelineConfigRejectsUnknownForce(t *testing.T) {
	if _, err := buildPipelineConfig(&runFlags{force: "bogus", onFailure: "abort"}); err == nil {
		t.Fatal("expected an error for an unrecognized --force value")
	}
}

func TestBuildPipelineConfigRejectsUnknownOnFailure(t *testing.T) {
	if _, err := buildPipelineConfig(&runFlags{onFailure: "bogus"}); err == nil {
		t.Fatal("expected an error for an unrecognized --on-failure value")
	}
}
