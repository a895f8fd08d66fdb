package service_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copilot/internal/config"
	"copilot/internal/domain"
	"copilot/internal/service"
)

const journalism = "新闻采访要求真实准确"

func writeCorpus(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newEngine(t *testing.T, dir string, cfg config.RAGConfig) *service.Engine {
	t.Helper()
	e, err := service.NewEngine(cfg, dir)
	require.NoError(t, err)
	return e
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultRAG()
	cfg.TopK = 0

	_, err := service.NewEngine(cfg, t.TempDir())

	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestEngine_Query(t *testing.T) {
	t.Parallel()

	t.Run("finds the matching file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeCorpus(t, dir, map[string]string{"a.txt": strings.Repeat(journalism, 50)})
		e := newEngine(t, dir, config.DefaultRAG())

		results := e.Query(context.Background(), "新闻采访", 0)

		require.NotEmpty(t, results)
		assert.Equal(t, "a.txt", results[0].Source)
		assert.Greater(t, results[0].Score, 0.02)
		assert.LessOrEqual(t, len(results), 2)
	})

	t.Run("unrelated corpus yields nothing", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeCorpus(t, dir, map[string]string{"fox.txt": "The quick brown fox jumps over the lazy dog"})
		e := newEngine(t, dir, config.DefaultRAG())

		assert.Empty(t, e.Query(context.Background(), "新闻采访", 0))
	})

	t.Run("caps results at top k in descending order", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		files := map[string]string{}
		for i, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
			files[name] = strings.Repeat(journalism, 3+i)
		}
		writeCorpus(t, dir, files)
		e := newEngine(t, dir, config.DefaultRAG())

		results := e.Query(context.Background(), "新闻采访", 2)
		all := e.Query(context.Background(), "新闻采访", 5)

		require.Len(t, results, 2)
		require.Len(t, all, 5)
		assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
		for i := 1; i < len(all); i++ {
			assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
		}
		assert.Equal(t, all[:2], results)
	})

	t.Run("threshold is strict", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeCorpus(t, dir, map[string]string{"a.txt": strings.Repeat(journalism, 5)})
		cfg := config.DefaultRAG()
		e := newEngine(t, dir, cfg)

		results := e.Query(context.Background(), "新闻", 1)
		require.Len(t, results, 1)

		cfg.SimilarityThreshold = results[0].Score
		strict := newEngine(t, dir, cfg)

		assert.Empty(t, strict.Query(context.Background(), "新闻", 1))
	})

	t.Run("content is trimmed", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeCorpus(t, dir, map[string]string{"a.txt": "\n\n  " + strings.Repeat(journalism, 3) + "  \n"})
		e := newEngine(t, dir, config.DefaultRAG())

		results := e.Query(context.Background(), "新闻采访", 0)

		require.Len(t, results, 1)
		assert.Equal(t, strings.Repeat(journalism, 3), results[0].Content)
	})

	t.Run("missing corpus directory", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "missing")
		e := newEngine(t, dir, config.DefaultRAG())

		assert.Empty(t, e.Query(context.Background(), "新闻采访", 0))
		assert.Equal(t, service.FormatNotFound("新闻采访", dir), e.GenerateResponse(context.Background(), "新闻采访"))
		assert.False(t, e.Stats(context.Background()).Indexed)
	})

	t.Run("blank and whitespace queries do not fail", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeCorpus(t, dir, map[string]string{"a.txt": strings.Repeat(journalism, 5)})
		e := newEngine(t, dir, config.DefaultRAG())

		assert.Empty(t, e.Query(context.Background(), "", 0))
		assert.Empty(t, e.Query(context.Background(), " ", 0))
		assert.Empty(t, e.Query(context.Background(), "什么是？", 0))
	})
}

func TestEngine_GenerateResponse(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeCorpus(t, dir, map[string]string{"a.txt": strings.Repeat(journalism+"\n", 30)})
	e := newEngine(t, dir, config.DefaultRAG())

	resp := e.GenerateResponse(context.Background(), "什么是新闻采访？")

	assert.Contains(t, resp, "「**什么是新闻采访？**」")
	assert.Contains(t, resp, "来源：a.txt")
	assert.Contains(t, resp, journalism+" "+journalism)
}

func TestEngine_Answer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeCorpus(t, dir, map[string]string{"a.txt": strings.Repeat(journalism, 50)})
	e := newEngine(t, dir, config.DefaultRAG())
	ctx := context.Background()

	resp, results := e.Answer(ctx, "新闻采访")

	require.NotEmpty(t, results)
	assert.Equal(t, e.Query(ctx, "新闻采访", 0), results)
	assert.Equal(t, service.FormatResults("新闻采访", results), resp)
	assert.Equal(t, e.GenerateResponse(ctx, "新闻采访"), resp)

	resp, results = e.Answer(ctx, "quick brown fox")
	assert.Empty(t, results)
	assert.Equal(t, service.FormatNotFound("quick brown fox", dir), resp)
}

func TestEngine_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("indexes only new files", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeCorpus(t, dir, map[string]string{"a.txt": strings.Repeat(journalism, 5)})
		e := newEngine(t, dir, config.DefaultRAG())
		ctx := context.Background()

		first, err := e.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, first.ChunksAdded)
		assert.True(t, first.Refit)

		writeCorpus(t, dir, map[string]string{
			"a.txt": "rewritten content that must not be picked up",
			"b.md":  "传播学教程 新闻学概论 " + strings.Repeat("媒介融合", 5),
		})
		second, err := e.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, second.ChunksAdded)
		assert.Equal(t, 2, second.TotalChunks)
		assert.True(t, second.Refit)
		require.Len(t, second.Files, 1)
		assert.Equal(t, "b.md", second.Files[0].Name)

		third, err := e.Refresh(ctx)
		require.NoError(t, err)
		assert.Zero(t, third.ChunksAdded)
		assert.False(t, third.Refit)
		assert.Empty(t, third.Files)

		stats := e.Stats(ctx)
		assert.Equal(t, 2, stats.TotalChunks)
		assert.Equal(t, []string{"a.txt", "b.md"}, stats.Files)
		assert.True(t, stats.Indexed)
		assert.Equal(t, strings.Repeat(journalism, 5), e.Documents()[0])
		assert.Equal(t, third, e.LastReport())
	})

	t.Run("skipped files are not retried", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeCorpus(t, dir, map[string]string{
			"blank.txt": " \n ",
			"tiny.txt":  "short",
		})
		e := newEngine(t, dir, config.DefaultRAG())
		ctx := context.Background()

		rep, err := e.Refresh(ctx)
		require.NoError(t, err)
		require.Len(t, rep.Skipped(), 1)
		assert.Equal(t, domain.SkipEmpty, rep.Skipped()[0].Reason)
		assert.Equal(t, 1, rep.Indexed())
		assert.Zero(t, rep.TotalChunks)

		writeCorpus(t, dir, map[string]string{"blank.txt": strings.Repeat(journalism, 5)})
		again, err := e.Refresh(ctx)
		require.NoError(t, err)
		assert.Empty(t, again.Files)
		assert.False(t, e.Stats(ctx).Indexed)
	})

	t.Run("cancelled build is retried", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeCorpus(t, dir, map[string]string{"a.txt": strings.Repeat(journalism, 5)})
		e := newEngine(t, dir, config.DefaultRAG())
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, e.Ensure(cancelled), context.Canceled)
		assert.Empty(t, e.Query(cancelled, "新闻采访", 0))

		assert.NotEmpty(t, e.Query(context.Background(), "新闻采访", 0))
	})

	t.Run("rebuilding is deterministic", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeCorpus(t, dir, map[string]string{
			"a.txt":       strings.Repeat(journalism, 50),
			"nested/b.md": "# 新闻写作\n\n" + strings.Repeat("导语 主体 背景 结尾 ", 30),
			"c.txt":       "The quick brown fox jumps over the lazy dog",
		})
		a := newEngine(t, dir, config.DefaultRAG())
		b := newEngine(t, dir, config.DefaultRAG())
		ctx := context.Background()
		require.NoError(t, a.Ensure(ctx))
		require.NoError(t, b.Ensure(ctx))

		assert.Equal(t, a.Documents(), b.Documents())
		assert.Equal(t, a.Filenames(), b.Filenames())
		assert.Equal(t, a.ChunkVectors(), b.ChunkVectors())
		assert.Len(t, a.ChunkVectors(), len(a.Documents()))
	})
}

// gatedLoader blocks its first walk until release is closed.
type gatedLoader struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *gatedLoader) Walk(_ context.Context, _ string, seen map[string]struct{}) ([]domain.Document, []domain.FileReport, error) {
	l.once.Do(func() {
		close(l.started)
		<-l.release
	})
	const path = "/corpus/a.txt"
	if _, ok := seen[path]; ok {
		return nil, nil, nil
	}
	doc := domain.Document{ID: "a", Name: "a.txt", Path: path, Content: strings.Repeat(journalism, 5)}
	return []domain.Document{doc}, []domain.FileReport{{Path: path, Name: "a.txt"}}, nil
}

func TestEngine_RefreshOutlivesCancelledCaller(t *testing.T) {
	t.Parallel()

	ld := &gatedLoader{started: make(chan struct{}), release: make(chan struct{})}
	e, err := service.NewEngine(config.DefaultRAG(), "/corpus", service.WithLoader(ld))
	require.NoError(t, err)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := e.Refresh(first)
		firstErr <- err
	}()
	<-ld.started

	secondErr := make(chan error, 1)
	go func() {
		_, err := e.Refresh(context.Background())
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting for the build")
	}

	close(ld.release)
	select {
	case err := <-secondErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not finish")
	}
	stats := e.Stats(context.Background())
	assert.Equal(t, 1, stats.TotalChunks)
	assert.True(t, stats.Indexed)
}

func TestEngine_ConcurrentQueries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeCorpus(t, dir, map[string]string{"a.txt": strings.Repeat(journalism, 50)})
	e := newEngine(t, dir, config.DefaultRAG())
	ctx := context.Background()
	require.NoError(t, e.Ensure(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				writeCorpus(t, dir, map[string]string{fmt.Sprintf("extra-%d.txt", i): strings.Repeat("新闻评论", 10)})
				_, err := e.Refresh(ctx)
				assert.NoError(t, err)
				return
			}
			results := e.Query(ctx, "新闻采访", 0)
			if assert.NotEmpty(t, results) {
				assert.Equal(t, "a.txt", results[0].Source)
			}
		}(i)
	}
	wg.Wait()

	_, err := e.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, e.Stats(ctx).TotalFiles)
}
