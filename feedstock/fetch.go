package feedstock

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/SyneHQ/forge-runner/shell"
)

// Fetcher populates a directory with a feedstock repository. Repo is either a
// local directory, copied as is, or anything git can clone.
type Fetcher struct {
	Repo string
	Ref  string
	Exec shell.Executor
	Log  logrus.FieldLogger
}

func (f *Fetcher) Fetch(ctx context.Context, dest string) error {
	if f.Repo == "" {
		return fmt.Errorf("no feedstock repository given")
	}
	if st, err := os.Stat(f.Repo); err == nil && st.IsDir() {
		f.Log.WithField("status", "setup").Infof("Copying feedstock from %s", f.Repo)
		return copyTree(f.Repo, dest)
	}

	f.Log.WithField("status", "setup").Infof("Cloning feedstock %s", f.Repo)
	if _, err := f.Exec.Output(ctx, "", "git", "clone", "--quiet", f.Repo, dest); err != nil {
		return fmt.Errorf("git clone %s: %w", f.Repo, err)
	}
	if f.Ref != "" {
		if _, err := f.Exec.Output(ctx, dest, "git", "checkout", "--quiet", f.Ref); err != nil {
			return fmt.Errorf("git checkout %s: %w", f.Ref, err)
		}
	}
	return nil
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
