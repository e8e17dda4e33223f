package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/stellarlinkco/termpal/internal/tool"
)

const maxGitLog = 50

func gitTools(workDir string, timeout time.Duration) []tool.Tool {
	pathParam := tool.StringParam("path", "Repository directory; defaults to the current directory", false)
	return []tool.Tool{
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "git_status",
				Description: "Show the branch and working tree status of a git repository",
				Category:    CategoryGit,
				Parameters:  []tool.Param{pathParam},
			},
			Fn: func(ctx context.Context, args tool.Args) tool.Result {
				dir := resolvePath(workDir, args.String("path"))
				out, err := runGit(ctx, timeout, dir, "status", "--short", "--branch")
				if err != nil {
					return tool.Fail(err)
				}
				lines := strings.Split(out, "\n")
				if len(lines) == 1 {
					return tool.OK(fmt.Sprintf("%s\nWorking tree clean", lines[0]), out)
				}
				return tool.OK(out, out)
			},
		},
		&tool.Func{
			Desc: tool.Descriptor{
				Name:        "git_log",
				Description: "Show recent commits of a git repository",
				Category:    CategoryGit,
				Parameters: []tool.Param{
					pathParam,
					tool.NumberParam("count", "Number of commits to show (default 10, max 50)", false),
				},
			},
			Fn: func(ctx context.Context, args tool.Args) tool.Result {
				n := args.Int("count", 10)
				if n < 1 {
					n = 1
				}
				if n > maxGitLog {
					n = maxGitLog
				}
				dir := resolvePath(workDir, args.String("path"))
				out, err := runGit(ctx, timeout, dir, "log", "-n", strconv.Itoa(n), "--pretty=format:%h %ad %s", "--date=short")
				if err != nil {
					return tool.Fail(err)
				}
				if out == "" {
					return tool.OK("No commits yet", out)
				}
				return tool.OK(out, out)
			},
		},
	}
}

func runGit(ctx context.Context, timeout time.Duration, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", errors.New("git is not installed")
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s timed out", args[0])
		}
		msg := strings.TrimSpace(stderr.String())
		switch {
		case strings.Contains(msg, "not a git repository"):
			return "", fmt.Errorf("%s is not a git repository", dir)
		case strings.Contains(msg, "does not have any commits"):
			return "", nil
		case msg == "":
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

func resolvePath(workDir, p string) string {
	if p == "" {
		return workDir
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := homeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workDir, p)
}
