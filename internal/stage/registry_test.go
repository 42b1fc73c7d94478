package stage

import (
	"context"
	"errors"
	"testing"

	"redub/internal/artifact"
	"redub/internal/services"
)

type fakeAdapter struct {
	kind NodeKind
}

func (f fakeAdapter) Kind() NodeKind      { return f.kind }
func (f fakeAdapter) Deterministic() bool { return true }
func (f fakeAdapter) Invoke(context.Context, Request) (artifact.Artifact, error) {
	return artifact.Artifact{}, nil
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindTranscribe, "", fakeAdapter{kind: KindTranscribe})
	reg.Register(KindSynthesize, "gptsovits", fakeAdapter{kind: KindSynthesize})
	reg.Register(KindSynthesize, "indextts", fakeAdapter{kind: KindSynthesize})

	if _, err := reg.Resolve(KindTranscribe, ""); err != nil {
		t.Fatalf("resolve transcribe: %v", err)
	}
	if _, err := reg.Resolve(KindSynthesize, "GPTSoVITS"); err != nil {
		t.Fatalf("engine lookup should be case-insensitive: %v", err)
	}
	_, err := reg.Resolve(KindSynthesize, "espeak")
	if err == nil {
		t.Fatal("expected error for unknown engine")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRegistryEngines(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindSynthesize, "indextts", fakeAdapter{kind: KindSynthesize})
	reg.Register(KindSynthesize, "gptsovits", fakeAdapter{kind: KindSynthesize})

	engines := reg.Engines(KindSynthesize)
	if len(engines) != 2 || engines[0] != "gptsovits" || engines[1] != "indextts" {
		t.Fatalf("engines = %v", engines)
	}
	if !reg.HasEngine("gptsovits") || reg.HasEngine("espeak") {
		t.Fatal("HasEngine misreported")
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindMux, "", fakeAdapter{kind: KindMux})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg.Register(KindMux, "", fakeAdapter{kind: KindMux})
}

func TestRequestInputLookup(t *testing.T) {
	req := Request{Inputs: []artifact.Artifact{
		{Key: "a", Kind: artifact.KindRawVideo},
		{Key: "b", Kind: artifact.KindSynthClip},
		{Key: "c", Kind: artifact.KindSynthClip},
	}}
	if in, ok := req.Input(artifact.KindRawVideo); !ok || in.Key != "a" {
		t.Fatalf("Input lookup failed: %+v %v", in, ok)
	}
	clips := req.InputsOf(artifact.KindSynthClip)
	if len(clips) != 2 || clips[0].Key != "b" || clips[1].Key != "c" {
		t.Fatalf("InputsOf order lost: %+v", clips)
	}
	if _, ok := req.Input(artifact.KindFinalVideo); ok {
		t.Fatal("missing kind should not resolve")
	}
}
