package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stratahq/strata/display"
	"github.com/stratahq/strata/errors"
	"github.com/stratahq/strata/logger"
	"github.com/stratahq/strata/rawstore"
)

// StoreCmd represents the store (raw sources) command
var StoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage content-addressed raw sources",
	Long: `Store and retrieve raw source bytes.

Sources are content-addressed: identical bytes from the same owner always
resolve to the same source id, so re-storing is a safe no-op.

Examples:
  strata store put invoice.pdf --owner acme        # Store a file
  strata store get src_4fz9... --owner acme        # Show source metadata
  strata store get src_4fz9... --content > out.bin # Dump stored bytes`,
}

var storePutCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Store a file's bytes as a raw source",
	Args:  cobra.ExactArgs(1),
	RunE:  runStorePut,
}

var storeGetCmd = &cobra.Command{
	Use:   "get <source-id>",
	Short: "Retrieve source metadata or content",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoreGet,
}

var (
	storeOwnerFlag      string
	storeMimeFlag       string
	storeProvenanceFlag string
	storeContentFlag    bool
)

func init() {
	StoreCmd.AddCommand(storePutCmd)
	StoreCmd.AddCommand(storeGetCmd)

	storePutCmd.Flags().StringVar(&storeOwnerFlag, "owner", "default", "Owner scope for deduplication")
	storePutCmd.Flags().StringVar(&storeMimeFlag, "mime", "application/octet-stream", "MIME type of the content")
	storePutCmd.Flags().StringVar(&storeProvenanceFlag, "provenance", "", "Free-form provenance note")
	storeGetCmd.Flags().BoolVar(&storeContentFlag, "content", false, "Write raw content to stdout instead of metadata")
}

func runStorePut(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", args[0])
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := rawstore.NewStore(database, logger.Logger)
	result, err := store.Put(cmd.Context(), storeOwnerFlag, data, storeMimeFlag, filepath.Base(args[0]), storeProvenanceFlag)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(result)
	}

	if result.Deduplicated {
		fmt.Printf("Already stored: %s\n", result.SourceID)
	} else {
		fmt.Printf("Stored: %s\n", result.SourceID)
	}
	fmt.Printf("Content hash: %s\n", result.ContentHash)
	return nil
}

func runStoreGet(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := rawstore.NewStore(database, logger.Logger)

	if storeContentFlag {
		content, err := store.GetContent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(content)
		return err
	}

	src, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(src)
	}

	fmt.Printf("Source:       %s\n", src.ID)
	fmt.Printf("Owner:        %s\n", src.OwnerScope)
	fmt.Printf("Content hash: %s\n", src.ContentHash)
	fmt.Printf("MIME type:    %s\n", src.MimeType)
	if src.OriginalFilename != "" {
		fmt.Printf("Filename:     %s\n", src.OriginalFilename)
	}
	fmt.Printf("Size:         %d bytes\n", src.ByteSize)
	fmt.Printf("Stored at:    %s\n", src.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
