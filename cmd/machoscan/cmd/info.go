package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	macho "github.com/appsworld/machoscan"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var bold = color.New(color.Bold).SprintFunc()

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:     "info <macho>",
	Aliases: []string{"i"},
	Short:   "Print the architectures, segments, and sections of a Mach-O",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = viper.GetBool("no-color")

		machoPath := filepath.Clean(args[0])
		f, err := os.Open(machoPath)
		if err != nil {
			return fmt.Errorf("failed to open file %s: %v", machoPath, err)
		}
		defer f.Close()

		img, fat, err := macho.Decode(f)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %v", machoPath, err)
		}

		if fat != nil {
			fmt.Printf("%s %s, %d architectures\n", bold("FAT"), fat.Magic, fat.NArch)
			for i := range fat.Arches {
				fa := &fat.Arches[i]
				fmt.Printf("\n%s %s (%s)\n", bold("ARCH"), fa.CPU, fa.SubCPU.String(fa.CPU))
				if fa.Err != nil {
					log.WithError(fa.Err).Errorf("failed to decode slice %d", i)
					continue
				}
				printImage(fa.Image)
			}
			return nil
		}

		printImage(img)
		return nil
	},
}

func printImage(img *macho.File) {
	fmt.Printf("%s\n", img.FileHeader)
	for _, s := range img.Segments() {
		fmt.Printf("%s %s\n", bold("SEG"), s)
		for _, sec := range img.SectionsForSegment(s) {
			fmt.Printf("    %s\n", sec)
		}
	}
	for _, l := range img.Loads {
		if !l.Command().IsKnown() {
			log.Debugf("unrecognized load command %s (%d bytes)", l.Command(), len(l.Raw()))
		}
	}
	for _, a := range img.Anomalies {
		log.Warnf("structural anomaly: %s", a)
	}
}
