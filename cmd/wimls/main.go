// Command wimls lists and extracts files from a WIM archive.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fox-it/dissect.archive/wim"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "wimls <archive.wim>",
		Short:         "Inspect and extract files from a WIM archive",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log parse diagnostics to stderr")

	openArchive := func(file string) (*wim.Archive, *os.File, error) {
		f, err := os.Open(file)
		if err != nil {
			return nil, nil, err
		}

		var opts []wim.Option
		if verbose {
			log := logrus.New()
			log.SetOutput(os.Stderr)
			opts = append(opts, wim.WithLogger(logrus.NewEntry(log)))
		}

		a, err := wim.Open(f, opts...)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return a, f, nil
	}

	root.AddCommand(newInfoCommand(openArchive))
	root.AddCommand(newLsCommand(openArchive))
	root.AddCommand(newCatCommand(openArchive))

	return root
}

type archiveOpener func(file string) (*wim.Archive, *os.File, error)

func newInfoCommand(open archiveOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "info <archive.wim>",
		Short: "Print header and image summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, f, err := open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			hdr := a.Header()
			fmt.Printf("GUID:        %s\n", hdr.GUID)
			fmt.Printf("Version:     %#x\n", hdr.Version)
			fmt.Printf("Chunk size:  %d\n", hdr.CompressionSize)
			fmt.Printf("Part:        %d/%d\n", hdr.PartNumber, hdr.TotalParts)
			fmt.Printf("Images:      %d\n", hdr.ImageCount)

			images, err := a.Images()
			if err != nil {
				return errors.Wrap(err, "enumerate images")
			}
			for i, img := range images {
				fmt.Printf("  [%d] root streams: %d, descriptors: %d\n", i, len(img.Root.Streams()), len(img.Security.Descriptors))
			}
			return nil
		},
	}
}

func newLsCommand(open archiveOpener) *cobra.Command {
	var imageIndex int
	cmd := &cobra.Command{
		Use:   "ls <archive.wim> [path]",
		Short: "List a directory inside an image",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, f, err := open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			img, err := nthImage(a, imageIndex)
			if err != nil {
				return err
			}

			target := img.Root
			if len(args) == 2 && args[1] != "" && args[1] != "\\" && args[1] != "/" {
				target, err = img.Get(args[1], nil)
				if err != nil {
					return err
				}
			}

			entries, err := target.Iterdir()
			if err != nil {
				return err
			}
			for _, e := range entries {
				kind := "-"
				switch {
				case e.IsDir():
					kind = "d"
				case e.IsSymlink():
					kind = "l"
				case e.IsReparsePoint():
					kind = "r"
				}
				fmt.Printf("%s %s\n", kind, e.Name)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&imageIndex, "image", 0, "index of the image to read")
	return cmd
}

func newCatCommand(open archiveOpener) *cobra.Command {
	var imageIndex int
	var stream string
	cmd := &cobra.Command{
		Use:   "cat <archive.wim> <path>",
		Short: "Print a file's decompressed content to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, f, err := open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			img, err := nthImage(a, imageIndex)
			if err != nil {
				return err
			}

			entry, err := img.Get(args[1], nil)
			if err != nil {
				return err
			}

			r, err := entry.Open(stream)
			if err != nil {
				return err
			}
			_, err = io.Copy(os.Stdout, r)
			return err
		},
	}
	cmd.Flags().IntVar(&imageIndex, "image", 0, "index of the image to read")
	cmd.Flags().StringVar(&stream, "stream", "", "alternate data stream name")
	return cmd
}

func nthImage(a *wim.Archive, idx int) (*wim.Image, error) {
	images, err := a.Images()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate images")
	}
	if idx < 0 || idx >= len(images) {
		return nil, errors.Errorf("image index %d out of range (archive has %d images)", idx, len(images))
	}
	return images[idx], nil
}
