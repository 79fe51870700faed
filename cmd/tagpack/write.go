package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/tagpack"
	"github.com/meigma/tagpack/internal/platform"
)

func addSyncFlag(cmd *cobra.Command) {
	cmd.Flags().Bool(syncKey, false, "Flush the container to stable storage before exiting")
}

func (a *app) packCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack <container> <dir>",
		Short: "Create a container from the regular files under a directory",
		Long: `Create a container holding every regular file under dir, tagged with its
slash-separated path relative to dir. Symbolic links are skipped.`,
		Args: cobra.ExactArgs(2),
		RunE: a.pack,
	}
	addSyncFlag(cmd)
	return cmd
}

func (a *app) pack(cmd *cobra.Command, args []string) error {
	container, dir := args[0], args[1]

	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer root.Close()

	var count int
	var total uint64
	err = tagpack.Update(container, tagpack.ModeCreate, func(w *tagpack.Writer) error {
		return fs.WalkDir(root.FS(), ".", func(name string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				if d.Type()&fs.ModeSymlink != 0 {
					a.log().Warn("skipping symbolic link", "path", name)
				}
				return nil
			}

			f, err := platform.OpenRegular(root, name)
			if err != nil {
				return err
			}
			defer f.Close()
			src, err := tagpack.NewFileSource(f)
			if err != nil {
				return err
			}
			if err := w.AppendFrom(name, src); err != nil {
				return err
			}
			a.log().Debug("packed file", "tag", name, "size", src.Size())
			count++
			total += uint64(src.Size()) //nolint:gosec // file sizes are never negative
			return nil
		})
	}, a.writerOptions()...)
	if err != nil {
		return err
	}

	cmd.Printf("packed %d sections (%s) into %s\n", count, humanize.IBytes(total), container)
	return nil
}

func (a *app) addCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <container> <tag> <file>",
		Short: "Append a file as a new section",
		Long:  `Append the content of file as a section named tag. The container is created if it does not exist.`,
		Args:  cobra.ExactArgs(3),
		RunE:  a.add,
	}
	addSyncFlag(cmd)
	return cmd
}

func (a *app) add(cmd *cobra.Command, args []string) error {
	container, tag, file := args[0], args[1], args[2]

	mode := tagpack.ModeAppend
	if _, err := os.Stat(container); errors.Is(err, fs.ErrNotExist) {
		mode = tagpack.ModeCreate
	}

	err := tagpack.Update(container, mode, func(w *tagpack.Writer) error {
		return w.AppendFile(tag, file)
	}, a.writerOptions()...)
	if err != nil {
		return err
	}
	cmd.Printf("added %s to %s\n", tag, container)
	return nil
}

func (a *app) patchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch <container> <tag> <file>",
		Short: "Overwrite an existing section in place",
		Long: `Overwrite the start of the section named tag with the content of file.
The section keeps its size; content longer than the section is refused.`,
		Args: cobra.ExactArgs(3),
		RunE: a.patch,
	}
	addSyncFlag(cmd)
	return cmd
}

func (a *app) patch(cmd *cobra.Command, args []string) error {
	container, tag, file := args[0], args[1], args[2]

	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	err = tagpack.Update(container, tagpack.ModeWriteExisting, func(w *tagpack.Writer) error {
		sw, err := w.ExistingSection(tag)
		if err != nil {
			return err
		}
		if limit, _ := sw.Limit(); uint64(len(content)) > limit {
			return fmt.Errorf("patch %s: %s exceeds section size %s",
				tag, humanize.IBytes(uint64(len(content))), humanize.IBytes(limit))
		}
		_, err = sw.Write(content)
		return err
	}, a.writerOptions()...)
	if err != nil {
		return err
	}
	cmd.Printf("patched %s in %s\n", tag, container)
	return nil
}
