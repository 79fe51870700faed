package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/tagpack"
)

func (a *app) lsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls <container|url>",
		Short: "List the sections of a container",
		Args:  cobra.ExactArgs(1),
		RunE:  a.ls,
	}
	cmd.Flags().Bool(digestKey, false, "Show the sha256 digest of every section")
	return cmd
}

func (a *app) ls(cmd *cobra.Command, args []string) error {
	r, err := a.openContainer(cmd, args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	withDigest := a.v.GetBool(digestKey)

	out := tablewriter.NewWriter(cmd.OutOrStdout())
	header := []string{"Tag", "Offset", "Size"}
	if withDigest {
		header = append(header, "Digest")
	}
	out.SetHeader(header)
	out.SetAutoWrapText(false)
	out.SetAlignment(tablewriter.ALIGN_LEFT)

	for e := range r.All() {
		row := []string{e.Tag, strconv.FormatUint(e.Offset, 10), humanize.IBytes(e.Size)}
		if withDigest {
			d, err := r.Digest(e.Tag)
			if err != nil {
				return err
			}
			row = append(row, d.String())
		}
		out.Append(row)
	}
	out.Render()
	return nil
}

func (a *app) catCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <container|url> <tag>",
		Short: "Write the content of a section to stdout",
		Args:  cobra.ExactArgs(2),
		RunE:  a.cat,
	}
}

func (a *app) cat(cmd *cobra.Command, args []string) error {
	r, err := a.openContainer(cmd, args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	content, err := r.ReadSection(args[1])
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(content)
	return err
}

func (a *app) extractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <container|url> <dir> [tags...]",
		Short: "Write sections as files under a directory",
		Long: `Write each section to dir, using its tag as a slash-separated relative path.
Without tags every section is extracted. Tags that would escape dir are refused.`,
		Args: cobra.MinimumNArgs(2),
		RunE: a.extract,
	}
}

func (a *app) extract(cmd *cobra.Command, args []string) error {
	r, err := a.openContainer(cmd, args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	dir := args[1]
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer root.Close()

	tags := args[2:]
	if len(tags) == 0 {
		for e := range r.All() {
			tags = append(tags, e.Tag)
		}
	}
	for _, tag := range tags {
		if !r.HasSection(tag) {
			return &tagpack.SectionError{Op: "extract", Tag: tag, Err: tagpack.ErrSectionNotFound}
		}
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(a.v.GetInt(concurrencyKey), 1))
	for _, tag := range tags {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return extractSection(r, root, tag)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.log().Info("extracted sections", "count", len(tags), "dir", dir)
	cmd.Printf("extracted %d sections to %s\n", len(tags), dir)
	return nil
}

func extractSection(r *tagpack.Reader, root *os.Root, tag string) error {
	sr, err := r.Section(tag)
	if err != nil {
		return err
	}
	if parent := path.Dir(tag); parent != "." {
		if err := root.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("extract %s: %w", tag, err)
		}
	}
	f, err := root.OpenFile(tag, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("extract %s: %w", tag, err)
	}
	if _, err := io.Copy(f, sr); err != nil {
		f.Close()
		return fmt.Errorf("extract %s: %w", tag, err)
	}
	return f.Close()
}

func (a *app) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <container|url>",
		Short: "Check the index and read every section",
		Args:  cobra.ExactArgs(1),
		RunE:  a.verify,
	}
}

func (a *app) verify(cmd *cobra.Command, args []string) error {
	r, err := a.openContainer(cmd, args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	var total uint64
	for e := range r.All() {
		d, err := r.Digest(e.Tag)
		if err != nil {
			return err
		}
		a.log().Debug("section verified", "tag", e.Tag, "size", e.Size, "digest", d)
		total += e.Size
	}

	cmd.Printf("ok: %d sections, %s of data, index at offset %d\n",
		r.Len(), humanize.IBytes(total), r.IndexOffset())
	return nil
}
