package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/baseline"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/report"
	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/runctx"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func corpusDir(t *testing.T) (dir, list string) {
	t.Helper()
	dir = t.TempDir()
	files := map[string]string{
		"a.txt": "the cat sat on the mat",
		"b.txt": "the cat sat on a hat",
		"c.txt": "a completely different sentence here",
	}
	for name, text := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
	}
	list = filepath.Join(dir, "files.txt")
	require.NoError(t, os.WriteFile(list, []byte("a.txt\nb.txt\nc.txt\n"), 0o644))
	return dir, list
}

type reportLine struct {
	x, y  string
	score float64
}

func parseReport(t *testing.T, out string) []reportLine {
	t.Helper()
	var lines []reportLine
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, "\t")
		require.Len(t, fields, 12, line)
		score, err := strconv.ParseFloat(fields[11], 64)
		require.NoError(t, err)
		lines = append(lines, reportLine{x: fields[2], y: fields[6], score: score})
	}
	return lines
}

func TestBaselineThenCompare(t *testing.T) {
	dir, list := corpusDir(t)
	base := filepath.Join(dir, "base.txt")

	_, err := execute(t, "", "baseline", "--chdir", dir, "-n", "2", "-o", base, list)
	require.NoError(t, err)
	data, err := os.ReadFile(base)
	require.NoError(t, err)
	assert.Contains(t, string(data), "_book_count 3\n")
	assert.Contains(t, string(data), "\nthe cat 2\n")

	out, err := execute(t, "", "compare", "--chdir", dir, "-n", "2", "-b", base, "--workers", "1", list)
	require.NoError(t, err)
	lines := parseReport(t, out)
	require.Len(t, lines, 6)
	assert.Equal(t, "a", lines[0].x)
	assert.Equal(t, "b", lines[0].y)

	scores := map[string]float64{}
	for _, l := range lines {
		scores[l.x+"|"+l.y] = l.score
	}
	assert.Greater(t, scores["a|b"], scores["a|c"])
	assert.Zero(t, scores["a|c"])
}

func TestBaselineFromStdinAsBinaryDump(t *testing.T) {
	dir, _ := corpusDir(t)
	base := filepath.Join(dir, "base.ngd")

	_, err := execute(t, "a.txt\nb.txt\n", "baseline", "--chdir", dir, "--refs", "-o", base, "-")
	require.NoError(t, err)

	out, err := execute(t, "a.txt\nb.txt\n", "compare", "--chdir", dir, "-b", base, "--include-self", "-")
	require.NoError(t, err)
	assert.Len(t, parseReport(t, out), 4)
}

func TestCompareRequiresBaseline(t *testing.T) {
	_, list := corpusDir(t)
	_, err := execute(t, "", "compare", list)
	assert.ErrorContains(t, err, "no baseline")
}

func TestInvalidMaxN(t *testing.T) {
	_, list := corpusDir(t)
	_, err := execute(t, "", "baseline", "-n", "-1", list)
	assert.ErrorContains(t, err, "ngram.maxN")
}

func TestGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prose.txt"), []byte("and then there was the thing with the other"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noise.txt"), []byte("qzx vvk plm qqq zzz"), 0o644))

	out, err := execute(t, "prose.txt\nnoise.txt\nmissing.txt\n", "garbage", "--chdir", dir, "-")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	fields := strings.Split(lines[1], "\t")
	require.Len(t, fields, 6)
	assert.Equal(t, "2", fields[0])
	assert.Equal(t, "0", fields[2])
	assert.Equal(t, "17", fields[3])
	assert.Equal(t, "noise.txt", fields[5])

	out, err = execute(t, "prose.txt\nnoise.txt\n", "garbage", "--chdir", dir, "--flagged", "-")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "noise.txt")
}

func TestWordIndex(t *testing.T) {
	dir, list := corpusDir(t)
	index := filepath.Join(dir, "index.json")
	out, err := execute(t, "", "wordindex", "--chdir", dir, "-o", index, list)
	require.NoError(t, err)
	assert.Contains(t, out, "Total words: 17\n")
	assert.Contains(t, out, "Unique words: 11\n")

	data, err := os.ReadFile(index)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"the":1,"cat":2,`))
}

func TestMemoScopeFollowsBaselineLimit(t *testing.T) {
	dir, list := corpusDir(t)
	base := filepath.Join(dir, "base.txt")
	_, err := execute(t, "", "baseline", "--chdir", dir, "-n", "2", "-o", base, list)
	require.NoError(t, err)

	scopeFor := func(limit int) string {
		trie, h, err := baseline.Load(context.Background(), runctx.ForTest(nil), base, baseline.Options{Limit: limit})
		require.NoError(t, err)
		return memoScope(base, limit, h.BookCount, trie.Size())
	}
	memoKey := func(scope string) string {
		return report.NewScoreCache(nil, scope, time.Hour, slog.Default()).Key("a", "b", 2)
	}

	full, limited := scopeFor(0), scopeFor(3)
	assert.Equal(t, full, scopeFor(0))
	assert.NotEqual(t, full, limited)
	assert.NotEqual(t, memoKey(full), memoKey(limited))
	assert.NotEqual(t, memoKey(limited), memoKey(scopeFor(4)))
}
