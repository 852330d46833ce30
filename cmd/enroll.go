package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/eagleaccess/eagle/internal/config"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <name-or-id> <image-or-dir>...",
	Short: "Enroll face images for a registered user",
	Long: `Enroll face images for a registered user. Each image is sent to the
embedding service; all resulting embeddings are stored, so a user enrolled
from several photos (different lighting, pose) matches more robustly.

Arguments may be image files or directories; directories are scanned for
.jpg/.jpeg/.png files.

Examples:
  # Enroll all captured frames for a user
  eagle enroll alice dataset/alice/cropped

  # Enroll specific photos
  eagle enroll alice photo1.jpg photo2.jpg

  # Store a single averaged embedding instead of one per photo
  eagle enroll alice dataset/alice/cropped --average`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Bool("average", false, "Store the mean of all embeddings as a single vector")
}

// collectImagePaths expands file and directory arguments into a sorted
// list of image paths.
func collectImagePaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", arg, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".jpg", ".jpeg", ".png":
				paths = append(paths, filepath.Join(arg, e.Name()))
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	paths, err := collectImagePaths(args[1:])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no images found in %s", strings.Join(args[1:], ", "))
	}

	svc, cleanup, err := buildService(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	images := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		images = append(images, data)
	}

	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("Computing embeddings"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	average := mustGetBool(cmd, "average")
	stored, err := svc.Enroll(ctx, args[0], images, paths, average, func(done int) {
		_ = bar.Set(done)
	})
	fmt.Println()
	if err != nil {
		return err
	}

	if average {
		fmt.Printf("Stored 1 averaged embedding from %d images\n", len(images))
	} else {
		fmt.Printf("Stored %d embeddings\n", stored)
	}
	return nil
}
