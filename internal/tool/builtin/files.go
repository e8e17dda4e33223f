package builtin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/stellarlinkco/termpal/internal/tool"
)

const (
	maxFileBytes    = 64 << 10
	defaultMaxLines = 200
)

var homeDir = os.UserHomeDir

type fileContent struct {
	Path      string
	Content   string
	Lines     int
	Truncated bool
}

// readFileTool renders its content as a fenced code block.
type readFileTool struct {
	workDir string
}

func newReadFileTool(workDir string) *readFileTool { return &readFileTool{workDir: workDir} }

func (t *readFileTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        "read_file",
		Description: "Read a text file and show its contents",
		Category:    CategoryFiles,
		Parameters: []tool.Param{
			tool.StringParam("path", "File path, absolute or relative to the current directory", true),
			tool.NumberParam("max_lines", "Maximum number of lines to show (default 200)", false),
		},
	}
}

func (t *readFileTool) Execute(_ context.Context, args tool.Args) tool.Result {
	path := resolvePath(t.workDir, args.String("path"))
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tool.Failf("file not found: %s", path)
		}
		return tool.Fail(err)
	}
	if info.IsDir() {
		return tool.Failf("%s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return tool.Fail(err)
	}
	defer f.Close()
	buf := make([]byte, maxFileBytes+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return tool.Fail(err)
	}
	data := buf[:n]
	truncated := n > maxFileBytes
	if truncated {
		data = data[:maxFileBytes]
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(trimPartialRune(data)) {
		return tool.Failf("%s is not a text file", path)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	maxLines := args.Int("max_lines", defaultMaxLines)
	if maxLines < 1 {
		maxLines = defaultMaxLines
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		truncated = true
	}
	fc := fileContent{Path: path, Content: strings.Join(lines, "\n"), Lines: len(lines), Truncated: truncated}
	return tool.OK(fmt.Sprintf("Read %d line(s) from %s", fc.Lines, path), fc)
}

func (t *readFileTool) Render(res tool.Result) string {
	fc, ok := res.Data.(fileContent)
	if !ok {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📄 %s\n```%s\n%s\n```", fc.Path, fenceLang(fc.Path), fc.Content)
	if fc.Truncated {
		b.WriteString("\n(truncated)")
	}
	return b.String()
}

// trimPartialRune drops a rune cut off by the read limit.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

var fenceLangs = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".md":   "markdown",
	".sh":   "bash",
	".sql":  "sql",
	".toml": "toml",
	".html": "html",
	".css":  "css",
	".rs":   "rust",
}

func fenceLang(path string) string {
	return fenceLangs[strings.ToLower(filepath.Ext(path))]
}
