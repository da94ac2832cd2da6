// SPDX-License-Identifier: MPL-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"imagebender/internal/build"
	"imagebender/internal/builder"
	"imagebender/internal/runner"
	"imagebender/internal/store"
)

// fakeBuilder is an in-memory stand-in for the container engine. A single
// instance is shared across factory invocations so that state accumulated by
// callback-created builders is visible to the test.
type fakeBuilder struct {
	imageID string // id resolved for the base image
	present bool

	commitSeq int
	commits   []string // image names passed to Commit, in order
	swaps     []string // layer ids passed to SwapWorkingContainer
	volumes   []string
	pulls     int
	cleans    int
}

func (f *fakeBuilder) GetImageID(_ context.Context, _ string) (string, error) {
	return f.imageID, nil
}

func (f *fakeBuilder) IsBaseImagePresent(_ context.Context) (bool, error) {
	return f.present, nil
}

func (f *fakeBuilder) Pull(_ context.Context) error {
	f.pulls++
	return nil
}

func (f *fakeBuilder) FindInterpreter(_ context.Context) (string, error) {
	return "/usr/bin/python3", nil
}

func (f *fakeBuilder) Create(_ context.Context, volumes []string) error {
	f.volumes = volumes
	return nil
}

func (f *fakeBuilder) SwapWorkingContainer(_ context.Context, toLayerID string) error {
	f.swaps = append(f.swaps, toLayerID)
	return nil
}

func (f *fakeBuilder) Commit(_ context.Context, imageName string) (string, error) {
	f.commitSeq++
	f.commits = append(f.commits, imageName)
	return fmt.Sprintf("sha:layer%d", f.commitSeq), nil
}

func (f *fakeBuilder) Clean(_ context.Context) error {
	f.cleans++
	return nil
}

func (f *fakeBuilder) WorkingContainer() string { return "fake-cont" }

// scriptedEngine simulates the external task engine: it walks its task
// contents in order and drives the three per-task callbacks the way the
// real engine's callback plugin does.
type scriptedEngine struct {
	app    *Application
	tasks  []string
	failAt int // 1-based index of the task that fails; 0 means none

	executed []string // contents that actually executed (cache misses)
}

func (e *scriptedEngine) Run(ctx context.Context, req runner.Request) ([]string, error) {
	var out []string
	for i, content := range e.tasks {
		layerID, err := e.app.MaybeLoadFromCache(ctx, content, req.BuildID)
		if err != nil {
			return nil, err
		}
		if layerID != "" {
			out = append(out, "TASK ["+content+"] cached")
			if _, err := e.app.RecordProgress(ctx, content, "", req.BuildID); err != nil {
				return nil, err
			}
			continue
		}

		if e.failAt == i+1 {
			out = append(out, "TASK ["+content+"] fatal")
			return nil, &runner.TaskFailedError{Output: out, Err: errors.New("module failure")}
		}

		e.executed = append(e.executed, content)
		out = append(out, "TASK ["+content+"] ok")
		if _, err := e.app.CacheTaskResult(ctx, content, req.BuildID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type testEnv struct {
	app     *Application
	store   *store.Store
	builder *fakeBuilder
	engine  *scriptedEngine
}

func newTestEnv(t *testing.T, tasks []string, failAt int) *testEnv {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "builds.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	fake := &fakeBuilder{imageID: "sha:base1", present: true}
	engine := &scriptedEngine{tasks: tasks, failAt: failAt}

	a := New(s, slog.New(slog.DiscardHandler),
		WithBuilderFactory(func(_ *build.Build, _ *slog.Logger) (builder.Builder, error) {
			return fake, nil
		}),
		WithRunnerFactory(func() runner.Runner { return engine }),
	)
	engine.app = a

	return &testEnv{app: a, store: s, builder: fake, engine: engine}
}

func writePlaybook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.yml")
	if err := os.WriteFile(path, []byte("- hosts: all\n"), 0o644); err != nil {
		t.Fatalf("writing playbook: %v", err)
	}
	return path
}

func newBuild(cacheTasks bool) *build.Build {
	return build.New(build.Params{
		BaseImage:   "fedora:41",
		TargetImage: "myapp",
		BuilderName: builder.BackendBuildah,
		CacheTasks:  cacheTasks,
	})
}

func TestBuild_MissingPlaybook(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, 0)
	b := newBuild(true)

	err := env.app.Build(context.Background(), filepath.Join(t.TempDir(), "nope.yml"), b, nil)
	if !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("Build with missing playbook = %v, want ErrResourceNotFound", err)
	}

	// Fail-fast: nothing was persisted.
	if _, err := env.store.GetBuild(b.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("build must not be persisted when the playbook is missing, got: %v", err)
	}
}

func TestBuild_CachingDisabledAllTasksExecute(t *testing.T) {
	t.Parallel()

	// Scenario: three tasks, caching off. Every task executes and the chain
	// still grows to base + 3, none of the task layers marked cached.
	env := newTestEnv(t, []string{"install-pkg", "copy-config", "enable-service"}, 0)
	b := newBuild(false)

	if err := env.app.Build(context.Background(), writePlaybook(t), b, nil); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(env.engine.executed) != 3 {
		t.Errorf("executed tasks = %v, want all 3", env.engine.executed)
	}

	got, err := env.store.GetBuild(b.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got.State != build.StateDone {
		t.Errorf("state = %q, want %q", got.State, build.StateDone)
	}
	if len(got.Layers) != 4 {
		t.Fatalf("chain length = %d, want 4", len(got.Layers))
	}
	if !got.Layers[0].Cached || got.Layers[0].ID != "sha:base1" {
		t.Errorf("base layer = %+v", got.Layers[0])
	}
	for i, l := range got.Layers[1:] {
		if l.Cached {
			t.Errorf("task layer %d marked cached with caching disabled", i+1)
		}
	}

	// Nothing may be reusable afterwards: the cache stayed empty.
	if id, err := env.app.MaybeLoadFromCache(context.Background(), "install-pkg", b.ID); err != nil || id != "" {
		t.Errorf("MaybeLoadFromCache after disabled-cache build = (%q, %v), want absent", id, err)
	}

	// Final image was committed under the target name.
	if last := env.builder.commits[len(env.builder.commits)-1]; last != "myapp" {
		t.Errorf("final commit = %q, want %q", last, "myapp")
	}
	if env.builder.cleans != 1 {
		t.Errorf("cleans = %d, want 1", env.builder.cleans)
	}
}

func TestBuild_CacheHitSkipsExecution(t *testing.T) {
	t.Parallel()

	// Scenario: "install-pkg" on top of sha:base1 is already cached as
	// sha:layerA, so the task never executes and the working container is
	// rewound to the cached layer.
	env := newTestEnv(t, []string{"install-pkg"}, 0)
	b := newBuild(true)

	if _, err := env.store.PutCacheEntryIfAbsent("install-pkg\x00sha:base1", "sha:layerA"); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	if err := env.app.Build(context.Background(), writePlaybook(t), b, nil); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(env.engine.executed) != 0 {
		t.Errorf("cached task executed: %v", env.engine.executed)
	}
	if !slices.Contains(env.builder.swaps, "sha:layerA") {
		t.Errorf("working container was not rewound to the cached layer, swaps = %v", env.builder.swaps)
	}

	got, err := env.store.GetBuild(b.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if len(got.Layers) != 2 {
		t.Fatalf("chain length = %d, want 2", len(got.Layers))
	}
	top := got.Layers[1]
	if top.ID != "sha:layerA" || !top.Cached || top.BaseID != "sha:base1" {
		t.Errorf("cached layer = %+v", top)
	}
}

func TestBuild_TaskFailurePreservesProgress(t *testing.T) {
	t.Parallel()

	// Scenario: task 2 of 3 fails. The build ends failed with only task 1's
	// layer recorded, partial output captured, and the partial container
	// committed under the -failed name.
	env := newTestEnv(t, []string{"install-pkg", "copy-config", "enable-service"}, 2)
	b := newBuild(true)

	err := env.app.Build(context.Background(), writePlaybook(t), b, nil)
	if !errors.Is(err, runner.ErrTaskFailed) {
		t.Fatalf("Build = %v, want ErrTaskFailed", err)
	}

	got, err := env.store.GetBuild(b.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got.State != build.StateFailed {
		t.Errorf("state = %q, want %q", got.State, build.StateFailed)
	}
	if got.FinishTime.IsZero() {
		t.Error("failed build should have a finish time")
	}
	if len(got.Layers) != 2 {
		t.Errorf("chain length = %d, want 2 (base + task 1)", len(got.Layers))
	}

	wantOut := []string{"TASK [install-pkg] ok", "TASK [copy-config] fatal"}
	if !slices.Equal(got.LogLines, wantOut) {
		t.Errorf("partial output = %v, want %v", got.LogLines, wantOut)
	}

	if !slices.Contains(env.builder.commits, "myapp-failed") {
		t.Errorf("partial image not committed, commits = %v", env.builder.commits)
	}
	if env.builder.cleans != 1 {
		t.Errorf("cleans = %d, want 1 (cleanup must run on failure)", env.builder.cleans)
	}
}

func TestBuild_SecondRunReusesLayers(t *testing.T) {
	t.Parallel()

	// Two identical builds: the second one is served entirely from cache.
	tasks := []string{"install-pkg", "copy-config"}
	env := newTestEnv(t, tasks, 0)

	b1 := newBuild(true)
	if err := env.app.Build(context.Background(), writePlaybook(t), b1, nil); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	if len(env.engine.executed) != 2 {
		t.Fatalf("first build executed = %v, want both tasks", env.engine.executed)
	}

	env.engine.executed = nil
	b2 := newBuild(true)
	if err := env.app.Build(context.Background(), writePlaybook(t), b2, nil); err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if len(env.engine.executed) != 0 {
		t.Errorf("second build executed = %v, want none", env.engine.executed)
	}

	got1, _ := env.store.GetBuild(b1.ID)
	got2, _ := env.store.GetBuild(b2.ID)
	if len(got2.Layers) != len(got1.Layers) {
		t.Fatalf("second chain length = %d, want %d", len(got2.Layers), len(got1.Layers))
	}
	for i := range got1.Layers {
		if got2.Layers[i].ID != got1.Layers[i].ID {
			t.Errorf("layer %d differs: %q vs %q", i, got2.Layers[i].ID, got1.Layers[i].ID)
		}
	}
	for _, l := range got2.Layers[1:] {
		if !l.Cached {
			t.Errorf("second build layer %+v should be cached", l)
		}
	}
}

func TestMaybeLoadFromCache_DisabledAlwaysAbsent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, 0)
	b := newBuild(false)
	if err := b.RecordLayer("", "sha:base1", "", true); err != nil {
		t.Fatalf("recording base layer: %v", err)
	}
	if err := env.store.PutBuild(b); err != nil {
		t.Fatalf("PutBuild: %v", err)
	}
	// Even with a matching entry present, disabled caching means absent.
	if _, err := env.store.PutCacheEntryIfAbsent("install-pkg\x00sha:base1", "sha:layerA"); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	layerID, err := env.app.MaybeLoadFromCache(context.Background(), "install-pkg", b.ID)
	if err != nil {
		t.Fatalf("MaybeLoadFromCache: %v", err)
	}
	if layerID != "" {
		t.Errorf("MaybeLoadFromCache = %q, want absent", layerID)
	}
	if len(env.builder.swaps) != 0 {
		t.Errorf("working container must not be touched when caching is disabled, swaps = %v", env.builder.swaps)
	}
}

func TestCacheTaskResult_RoundTrip(t *testing.T) {
	t.Parallel()

	// Committing a task result and immediately asking for reuse on a build
	// with the same top layer yields the just-committed layer id.
	env := newTestEnv(t, nil, 0)

	b1 := newBuild(true)
	if err := b1.RecordLayer("", "sha:base1", "", true); err != nil {
		t.Fatalf("recording base layer: %v", err)
	}
	if err := env.store.PutBuild(b1); err != nil {
		t.Fatalf("PutBuild: %v", err)
	}

	imageName, err := env.app.CacheTaskResult(context.Background(), "install-pkg", b1.ID)
	if err != nil {
		t.Fatalf("CacheTaskResult: %v", err)
	}
	if imageName == "" {
		t.Fatal("CacheTaskResult with caching enabled should return an image name")
	}
	if imageName != strings.ToLower(imageName) {
		t.Errorf("snapshot image name %q must be lowercase", imageName)
	}

	committed, err := env.store.GetBuild(b1.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	top, err := committed.TopLayerID()
	if err != nil {
		t.Fatalf("TopLayerID: %v", err)
	}

	b2 := newBuild(true)
	if err := b2.RecordLayer("", "sha:base1", "", true); err != nil {
		t.Fatalf("recording base layer: %v", err)
	}
	if err := env.store.PutBuild(b2); err != nil {
		t.Fatalf("PutBuild: %v", err)
	}

	layerID, err := env.app.MaybeLoadFromCache(context.Background(), "install-pkg", b2.ID)
	if err != nil {
		t.Fatalf("MaybeLoadFromCache: %v", err)
	}
	if layerID != top {
		t.Errorf("reused layer = %q, want the just-committed %q", layerID, top)
	}
}

func TestCacheTaskResult_DisabledRecordsButReturnsNoName(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, 0)
	b := newBuild(false)
	if err := b.RecordLayer("", "sha:base1", "", true); err != nil {
		t.Fatalf("recording base layer: %v", err)
	}
	if err := env.store.PutBuild(b); err != nil {
		t.Fatalf("PutBuild: %v", err)
	}

	imageName, err := env.app.CacheTaskResult(context.Background(), "install-pkg", b.ID)
	if err != nil {
		t.Fatalf("CacheTaskResult: %v", err)
	}
	if imageName != "" {
		t.Errorf("CacheTaskResult with caching disabled = %q, want absent", imageName)
	}

	got, err := env.store.GetBuild(b.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if len(got.Layers) != 2 || got.Layers[1].Cached {
		t.Errorf("chain after disabled-cache commit = %+v, want base + uncached layer", got.Layers)
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, 0)

	b1 := newBuild(true)
	b1.LogLines = []string{"line one"}
	if err := env.store.PutBuild(b1); err != nil {
		t.Fatalf("PutBuild: %v", err)
	}
	b2 := newBuild(true)
	if err := env.store.PutBuild(b2); err != nil {
		t.Fatalf("PutBuild: %v", err)
	}

	latest, err := env.app.GetBuild("")
	if err != nil {
		t.Fatalf("GetBuild(latest): %v", err)
	}
	if latest.ID != b2.ID {
		t.Errorf("latest build = %s, want %s", latest.ID, b2.ID)
	}

	logs, err := env.app.GetLogs(b1.ID)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if !slices.Equal(logs, []string{"line one"}) {
		t.Errorf("logs = %v", logs)
	}

	builds, err := env.app.ListBuilds()
	if err != nil {
		t.Fatalf("ListBuilds: %v", err)
	}
	if len(builds) != 2 {
		t.Errorf("ListBuilds = %d builds, want 2", len(builds))
	}

	detail, err := env.app.Inspect(b1.ID)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if detail.ID != b1.ID {
		t.Errorf("detail.ID = %s, want %s", detail.ID, b1.ID)
	}

	if _, err := env.app.GetBuild("no-such-id"); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("GetBuild for unknown id = %v, want ErrResourceNotFound", err)
	}
}

func TestRecordProgress_OutOfOrderRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, 0)
	b := newBuild(true)
	if err := b.RecordLayer("", "sha:base1", "", true); err != nil {
		t.Fatalf("recording base layer: %v", err)
	}
	if err := env.store.PutBuild(b); err != nil {
		t.Fatalf("PutBuild: %v", err)
	}

	// A skipped task with no matching cache entry is protocol misuse.
	_, err := env.app.RecordProgress(context.Background(), "install-pkg", "", b.ID)
	if !errors.Is(err, build.ErrInvariantViolation) {
		t.Errorf("RecordProgress for uncached skipped task = %v, want ErrInvariantViolation", err)
	}
}
