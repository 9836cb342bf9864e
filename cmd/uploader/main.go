// cmd/uploader/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	_ "github.com/joho/godotenv/autoload"

	"github.com/Gammanik/chunked-storage/internal/logging"
	"github.com/Gammanik/chunked-storage/internal/storage"
	"github.com/Gammanik/chunked-storage/internal/transfer"
	"github.com/Gammanik/chunked-storage/internal/utils"
)

var (
	serverURL   = flag.String("server", envOr("CHUNKSTORE_SERVER", "http://localhost:8080"), "Storage server base URL")
	token       = flag.String("token", os.Getenv("CHUNKSTORE_TOKEN"), "Access token sent as X-Vault-Token")
	folder      = flag.String("folder", "", "Target folder")
	chunkSize   = flag.String("chunk-size", "5MB", "Chunk size for large files")
	concurrency = flag.Int("concurrency", 1, "Chunks in flight at once")
	retries     = flag.Int("retries", 3, "Retries per request, 0 disables")
	pause       = flag.Duration("pause", 0, "Pause after each chunk")
	logLevel    = flag.String("log-level", "warn", "Log level")
)

const usage = `Usage: uploader [flags] <command> [args]

Commands:
  upload <file>...       upload files into -folder
  download <id> <path>   download a file
  list                   list files of -folder
  delete <id>            delete a file

Flags:
`

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	logger := logging.New(os.Stderr, *logLevel)

	client := storage.New(*serverURL, storage.Options{
		Token:        *token,
		RetryMax:     *retries,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 10 * time.Second,
		Logger:       logger,
	})

	switch command {
	case "upload":
		if len(args) == 0 || *folder == "" {
			return fmt.Errorf("upload needs -folder and at least one file")
		}
		size, err := units.RAMInBytes(*chunkSize)
		if err != nil {
			return fmt.Errorf("bad -chunk-size: %w", err)
		}
		uploader := transfer.New(client, transfer.Options{
			ChunkSize:   size,
			Concurrency: *concurrency,
			Pause:       *pause,
			Logger:      logger,
		})
		for _, path := range args {
			if err := uploadFile(ctx, uploader, path); err != nil {
				return err
			}
		}
		return nil

	case "download":
		if len(args) != 2 {
			return fmt.Errorf("download needs <id> <path>")
		}
		return downloadFile(ctx, client, args[0], args[1])

	case "list":
		if *folder == "" {
			return fmt.Errorf("list needs -folder")
		}
		return listFiles(ctx, client)

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("delete needs <id>")
		}
		if err := client.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("deleted", args[0])
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func uploadFile(ctx context.Context, uploader *transfer.Uploader, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	res, err := uploader.Upload(ctx, transfer.Object{
		Name:     name,
		MimeType: mime.TypeByExtension(filepath.Ext(name)),
		Size:     info.Size(),
		Body:     f,
	}, *folder, func(percent int) {
		fmt.Fprintf(os.Stderr, "\r%s: %3d%%", name, percent)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	mode := "single request"
	if res.Chunked {
		mode = fmt.Sprintf("%d chunks", res.TotalChunks)
	}
	fmt.Printf("%s -> %s (%s, %s)\n", name, res.FileID, units.HumanSize(float64(info.Size())), mode)
	return nil
}

func downloadFile(ctx context.Context, client *storage.HTTPClient, id, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	n, err := client.Download(ctx, id, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}

	sum, err := fileSHA256(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %s (%s, sha256 %s)\n", id, path, units.HumanSize(float64(n)), sum)
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, _, err := utils.CalculateStreamSHA256(f)
	return sum, err
}

func listFiles(ctx context.Context, client *storage.HTTPClient) error {
	files, err := client.List(ctx, *folder)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tCATEGORY\tUPLOADED")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			f.ID, f.OriginalName, units.HumanSize(float64(f.Size)), f.Category, f.UploadDate.Format(time.RFC3339))
	}
	return w.Flush()
}
