package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/filebox/internal/api"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List files",
		Args:  cobra.NoArgs,
		RunE:  runLs,
	}

	cmd.Flags().Int("page", 1, "page number, starting at 1")
	cmd.Flags().Int("page-size", 0, "files per page (default from page_size)")

	return cmd
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>...",
		Short: "Download files",
		Long: `Download one or more files by id into the output directory. Each file is
written to a temporary .partial file and renamed once complete, so an
interrupted download never leaves a truncated file under the real name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runGet,
	}

	cmd.Flags().StringP("output", "o", ".", "output directory")
	cmd.Flags().Bool("force", false, "overwrite existing local files")

	return cmd
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <file>...",
		Short: "Upload files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPut,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRm,
	}
}

// requireClient returns the API client, failing early when no session is
// stored.
func requireClient(ctx context.Context, cc *CLIContext) (*api.Client, error) {
	store, err := cc.Session(ctx)
	if err != nil {
		return nil, err
	}

	if !store.Snapshot().IsAuthenticated {
		return nil, errNotLoggedIn
	}

	return cc.Client(ctx)
}

// parseIDs converts command arguments to file ids.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))

	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id < 1 {
			return nil, fmt.Errorf("invalid file id %q", a)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// lsOutput is the JSON schema for `ls --json`.
type lsOutput struct {
	Files    []lsFile `json:"files"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Pages    int      `json:"pages"`
}

type lsFile struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	Created string `json:"created"`
}

func runLs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)
	defer cc.Close()

	page, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")

	if pageSize == 0 {
		pageSize = cc.Cfg.PageSize
	}

	client, err := requireClient(ctx, cc)
	if err != nil {
		return err
	}

	cc.Logger.Debug("ls", slog.Int("page", page), slog.Int("page_size", pageSize))

	list, err := client.ListFiles(ctx, page, pageSize)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()

	if cc.Flags.JSON {
		return printLsJSON(w, list)
	}

	printLsTable(w, list)

	return nil
}

func printLsJSON(w io.Writer, list *api.FileList) error {
	out := lsOutput{
		Files:    make([]lsFile, 0, len(list.Files)),
		Total:    list.Total,
		Page:     list.Page,
		PageSize: list.PageSize,
		Pages:    list.Pages(),
	}

	for i := range list.Files {
		f := &list.Files[i]
		out.Files = append(out.Files, lsFile{
			ID:      f.ID,
			Name:    f.FileName,
			Type:    f.FileType,
			Size:    f.FileSize,
			Created: f.Created,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printLsTable(w io.Writer, list *api.FileList) {
	if len(list.Files) == 0 {
		fmt.Fprintf(w, "No files (page %d of %d).\n", list.Page, max(list.Pages(), 1))
		return
	}

	rows := make([][]string, 0, len(list.Files))

	for i := range list.Files {
		f := &list.Files[i]
		rows = append(rows, []string{
			strconv.FormatInt(f.ID, 10),
			f.FileName,
			formatSize(f.FileSize),
			f.FileType,
			formatTime(f.CreatedAt()),
		})
	}

	printTable(w, []string{"ID", "NAME", "SIZE", "TYPE", "CREATED"}, rows)
	fmt.Fprintf(w, "\nPage %d of %d (%d files)\n", list.Page, list.Pages(), list.Total)
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)
	defer cc.Close()

	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	outDir, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	if fi, statErr := os.Stat(outDir); statErr != nil || !fi.IsDir() {
		return fmt.Errorf("output directory %q does not exist", outDir)
	}

	client, err := requireClient(ctx, cc)
	if err != nil {
		return err
	}

	// claimed guards against two concurrent downloads picking the same name.
	var (
		mu      sync.Mutex
		claimed = make(map[string]bool)
	)

	claim := func(path string) bool {
		mu.Lock()
		defer mu.Unlock()

		if claimed[path] {
			return false
		}

		claimed[path] = true

		return true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cc.Cfg.ParallelDownloads)

	for _, id := range ids {
		g.Go(func() error {
			path, n, err := downloadOne(gctx, client, id, outDir, force, claim, cc.Logger)
			if err != nil {
				return err
			}

			cc.Statusf("Downloaded %s (%s)\n", path, formatSize(n))

			return nil
		})
	}

	return g.Wait()
}

// downloadOne streams file id into a .partial file in dir and renames it
// to the server-supplied name once the body is complete.
func downloadOne(
	ctx context.Context, client *api.Client, id int64, dir string, force bool,
	claim func(string) bool, logger *slog.Logger,
) (string, int64, error) {
	f, err := os.CreateTemp(dir, fmt.Sprintf(".filebox-%d-*.partial", id))
	if err != nil {
		return "", 0, fmt.Errorf("creating partial file for download: %w", err)
	}

	partialPath := f.Name()

	d, dlErr := client.Download(ctx, id, f)
	closeErr := f.Close()

	if dlErr == nil && closeErr != nil {
		dlErr = fmt.Errorf("writing %s: %w", partialPath, closeErr)
	}

	if dlErr != nil {
		os.Remove(partialPath)
		return "", 0, dlErr
	}

	name := d.FileName
	if name == "" {
		name = fmt.Sprintf("file-%d", id)
	}

	target := filepath.Join(dir, name)

	if !claim(target) {
		os.Remove(partialPath)
		return "", 0, fmt.Errorf("file %d: %q is also being downloaded by another id", id, target)
	}

	if !force {
		if _, statErr := os.Stat(target); statErr == nil {
			os.Remove(partialPath)
			return "", 0, fmt.Errorf("file %d: %q already exists (use --force to overwrite)", id, target)
		}
	}

	// Atomic rename: .partial -> target.
	if err := os.Rename(partialPath, target); err != nil {
		os.Remove(partialPath)
		return "", 0, fmt.Errorf("renaming download to %q: %w", target, err)
	}

	logger.Debug("download saved", slog.Int64("id", id), slog.String("path", target), slog.Int64("bytes", d.Bytes))

	return target, d.Bytes, nil
}

// putOutput is one entry of `put --json`.
type putOutput struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Path string `json:"local_path"`
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)
	defer cc.Close()

	limit := cc.Cfg.MaxUploadBytes()

	// Check every file before sending any of them.
	for _, p := range args {
		fi, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("stat %q: %w", p, err)
		}

		if !fi.Mode().IsRegular() {
			return fmt.Errorf("%q is not a regular file", p)
		}

		if limit > 0 && fi.Size() > limit {
			return fmt.Errorf("%q is %s, larger than max_upload_size %s", p, formatSize(fi.Size()), formatSize(limit))
		}
	}

	client, err := requireClient(ctx, cc)
	if err != nil {
		return err
	}

	results := make([]putOutput, len(args))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cc.Cfg.ParallelUploads)

	for i, p := range args {
		g.Go(func() error {
			res, err := client.Upload(gctx, p, func() (io.ReadCloser, error) {
				return os.Open(p)
			})
			if err != nil {
				return err
			}

			results[i] = putOutput{ID: res.ID, Name: res.FileName, Size: res.FileSize, Path: p}
			cc.Statusf("Uploaded %s as id %d (%s)\n", p, res.ID, formatSize(res.FileSize))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(results)
	}

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := cliContextFrom(ctx)
	defer cc.Close()

	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	client, err := requireClient(ctx, cc)
	if err != nil {
		return err
	}

	var errs []error

	for _, id := range ids {
		if _, err := client.DeleteFile(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("deleting file %d: %w", id, err))

			// Nothing else can succeed without a session.
			if errors.Is(err, api.ErrSessionExpired) {
				break
			}

			continue
		}

		cc.Statusf("Deleted file %d\n", id)
	}

	return errors.Join(errs...)
}
