package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"redub/internal/artifact"
	"redub/internal/job"
	"redub/internal/manifest"
	"redub/internal/stage"
	"redub/internal/subtitle"
	"redub/internal/testsupport"
)

type stubAdapter struct {
	kind    stage.NodeKind
	payload []byte
	artKind artifact.Kind
}

func (a *stubAdapter) Kind() stage.NodeKind { return a.kind }

func (a *stubAdapter) Deterministic() bool { return false }

func (a *stubAdapter) Invoke(_ context.Context, req stage.Request) (artifact.Artifact, error) {
	return req.Store.Put(context.Background(), req.JobID, req.Key, a.artKind, bytes.NewReader(a.payload))
}

func newTestRouter(t *testing.T) (*gin.Engine, *job.Controller) {
	t.Helper()

	store := testsupport.MustOpenStore(t)
	man := testsupport.MustOpenManifest(t)
	cfg := testsupport.NewConfig(t)

	cues := []subtitle.Cue{
		{Index: 1, Start: 0, End: time.Second, Text: "Hello.", Translation: "你好。"},
	}
	cueJSON, err := json.Marshal(cues)
	if err != nil {
		t.Fatalf("marshal cues: %v", err)
	}

	registry := stage.NewRegistry()
	registry.Register(stage.KindDownload, "", &stubAdapter{stage.KindDownload, []byte("video"), artifact.KindRawVideo})
	registry.Register(stage.KindDemux, "", &stubAdapter{stage.KindDemux, []byte("audio"), artifact.KindAudioTrack})
	registry.Register(stage.KindTranscribe, "", &stubAdapter{stage.KindTranscribe, []byte("srt"), artifact.KindTranscript})
	registry.Register(stage.KindTranslate, "", &stubAdapter{stage.KindTranslate, cueJSON, artifact.KindSubtitleTrack})
	registry.Register(stage.KindSegment, "", &stubAdapter{stage.KindSegment, cueJSON, artifact.KindSubtitleTrack})
	registry.Register(stage.KindSynthesize, "gptsovits", &stubAdapter{stage.KindSynthesize, []byte("clip"), artifact.KindSynthClip})
	registry.Register(stage.KindMux, "", &stubAdapter{stage.KindMux, []byte("final"), artifact.KindFinalVideo})

	controller := job.NewController(cfg, store, man, registry, job.NewEventBus(0), nil)
	t.Cleanup(func() { controller.Shutdown(5 * time.Second) })
	return NewRouter(controller, nil, nil), controller
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func submitBody() string {
	return `{"source":"/tmp/in.mp4","source_lang":"en","target_lang":"zh","engine":"gptsovits"}`
}

func submitAndWait(t *testing.T, router *gin.Engine) string {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/v1/jobs", submitBody())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec := doRequest(t, router, http.MethodGet, "/api/v1/jobs/"+created.ID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var status struct {
			Status manifest.JobStatus `json:"status"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if status.Status.Terminal() {
			if status.Status != manifest.JobCompleted {
				t.Fatalf("job ended %s: %s", status.Status, rec.Body.String())
			}
			return created.ID
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return ""
}

func TestSubmitAndStatusRoundTrip(t *testing.T) {
	router, _ := newTestRouter(t)
	id := submitAndWait(t, router)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), id) {
		t.Fatalf("list does not mention job: %s", rec.Body.String())
	}
}

func TestSubmitRejectsBadPayload(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/jobs", `{"source":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/jobs",
		`{"source":"","source_lang":"en","target_lang":"zh","engine":"gptsovits"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty source status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "source") {
		t.Fatalf("error body should name the field: %s", rec.Body.String())
	}
}

func TestUnknownJobReturns404(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{
		"/api/v1/jobs/nope",
		"/api/v1/jobs/nope/events",
		"/api/v1/jobs/nope/artifacts",
	} {
		rec := doRequest(t, router, http.MethodGet, path, "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("GET %s status = %d, want 404", path, rec.Code)
		}
	}
	rec := doRequest(t, router, http.MethodPost, "/api/v1/jobs/nope/cancel", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel status = %d, want 404", rec.Code)
	}
}

func TestEventsSinceFilter(t *testing.T) {
	router, _ := newTestRouter(t)
	id := submitAndWait(t, router)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/jobs/"+id+"/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
	var payload struct {
		Events []job.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(payload.Events) == 0 {
		t.Fatal("expected events for a completed job")
	}
	last := payload.Events[len(payload.Events)-1].Seq

	rec = doRequest(t, router, http.MethodGet,
		"/api/v1/jobs/"+id+"/events?since="+strconv.FormatInt(last, 10), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events since status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(payload.Events) != 0 {
		t.Fatalf("events after last seq = %d, want none", len(payload.Events))
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/jobs/"+id+"/events?since=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since status = %d", rec.Code)
	}
}

func TestArtifactsListsOutputs(t *testing.T) {
	router, _ := newTestRouter(t)
	id := submitAndWait(t, router)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/jobs/"+id+"/artifacts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("artifacts status = %d", rec.Code)
	}
	var payload struct {
		Artifacts []job.ArtifactInfo `json:"artifacts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode artifacts: %v", err)
	}
	var finalKey string
	for _, info := range payload.Artifacts {
		if info.Kind == artifact.KindFinalVideo {
			finalKey = info.Key
		}
	}
	if finalKey == "" {
		t.Fatalf("artifacts = %+v, want a final video", payload.Artifacts)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/jobs/"+id+"/artifacts/"+finalKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if rec.Body.String() != "final" {
		t.Fatalf("download body = %q, want stored bytes", rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/jobs/"+id+"/artifacts/"+strings.Repeat("0", 64), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown artifact status = %d, want 404", rec.Code)
	}
}

func TestDeleteCompletedJob(t *testing.T) {
	router, _ := newTestRouter(t)
	id := submitAndWait(t, router)

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/jobs/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, router, http.MethodGet, "/api/v1/jobs/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}
