package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ruteri/legal-docstore/api"
	"github.com/ruteri/legal-docstore/api/clients"
	"github.com/ruteri/legal-docstore/interfaces"
	"github.com/urfave/cli/v2"
)

var flagServerAddr *cli.StringFlag = &cli.StringFlag{
	Name:    "server-addr",
	EnvVars: []string{"DOCSTORE_SERVER_ADDR"},
	Value:   "http://127.0.0.1:8080",
	Usage:   "Document server address",
}
var flagKey *cli.StringFlag = &cli.StringFlag{
	Name:     "key",
	Required: true,
	Usage:    "Storage key of the document",
}
var flagBackend *cli.StringFlag = &cli.StringFlag{
	Name:  "backend",
	Value: "auto",
	Usage: "Backend to address: auto, cdn-object, block-storage, local-fs or relational-blob",
}

func backendFrom(cCtx *cli.Context) (interfaces.BackendID, error) {
	return interfaces.ParseBackendID(cCtx.String(flagBackend.Name))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	app := &cli.App{
		Name:           "docstore-admin",
		Usage:          "Manage documents on a running document server",
		DefaultCommand: "usage",
		Flags:          []cli.Flag{flagServerAddr},
		Commands: []*cli.Command{
			{
				Name:  "usage",
				Usage: "Print per-backend storage usage",
				Action: func(cCtx *cli.Context) error {
					client := clients.NewDocumentClient(cCtx.String(flagServerAddr.Name), nil)
					report, err := client.Usage(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(report)
				},
			},
			{
				Name:      "upload",
				Usage:     "Upload a file",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "Explicit storage key; generated when empty"},
					&cli.StringFlag{Name: "case-id", Usage: "Case the document belongs to"},
					&cli.StringFlag{Name: "uploaded-by", Usage: "Uploader identity"},
					&cli.StringFlag{Name: "content-type", Usage: "Override the content type derived from the file name"},
				},
				Action: func(cCtx *cli.Context) error {
					path := cCtx.Args().First()
					if path == "" {
						return fmt.Errorf("file argument is required")
					}
					payload, err := os.ReadFile(path)
					if err != nil {
						return err
					}

					client := clients.NewDocumentClient(cCtx.String(flagServerAddr.Name), nil)
					resp, err := client.Upload(cCtx.Context, filepath.Base(path), payload, clients.UploadOptions{
						Key:         cCtx.String("key"),
						CaseID:      cCtx.String("case-id"),
						UploadedBy:  cCtx.String("uploaded-by"),
						ContentType: cCtx.String("content-type"),
					})
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "download",
				Usage: "Download a document",
				Flags: []cli.Flag{
					flagKey,
					flagBackend,
					&cli.StringFlag{Name: "out", Usage: "Output file; stdout when empty"},
				},
				Action: func(cCtx *cli.Context) error {
					backend, err := backendFrom(cCtx)
					if err != nil {
						return err
					}

					client := clients.NewDocumentClient(cCtx.String(flagServerAddr.Name), nil)
					data, servedBy, err := client.Download(cCtx.Context, cCtx.String(flagKey.Name), backend)
					if err != nil {
						return err
					}

					out := cCtx.String("out")
					if out == "" {
						_, err = os.Stdout.Write(data)
						return err
					}
					if err := os.WriteFile(out, data, 0600); err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "wrote %d bytes from %s to %s\n", len(data), servedBy, out)
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a document",
				Flags: []cli.Flag{
					flagKey,
					flagBackend,
					&cli.BoolFlag{Name: "bytes-only", Usage: "Keep whole-record entries, remove only stored bytes"},
				},
				Action: func(cCtx *cli.Context) error {
					backend, err := backendFrom(cCtx)
					if err != nil {
						return err
					}

					client := clients.NewDocumentClient(cCtx.String(flagServerAddr.Name), nil)
					resp, err := client.Delete(cCtx.Context, cCtx.String(flagKey.Name), backend, cCtx.Bool("bytes-only"))
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "url",
				Usage: "Print a retrieval URL for a document",
				Flags: []cli.Flag{
					flagKey,
					flagBackend,
					&cli.DurationFlag{Name: "expiry", Usage: "Lifetime of signed URLs; backend default when zero"},
				},
				Action: func(cCtx *cli.Context) error {
					backend, err := backendFrom(cCtx)
					if err != nil {
						return err
					}

					client := clients.NewDocumentClient(cCtx.String(flagServerAddr.Name), nil)
					u, err := client.URL(cCtx.Context, cCtx.String(flagKey.Name), backend, cCtx.Duration("expiry"))
					if err != nil {
						return err
					}
					fmt.Println(u)
					return nil
				},
			},
			{
				Name:  "info",
				Usage: "Print document metadata",
				Flags: []cli.Flag{flagKey, flagBackend},
				Action: func(cCtx *cli.Context) error {
					backend, err := backendFrom(cCtx)
					if err != nil {
						return err
					}

					client := clients.NewDocumentClient(cCtx.String(flagServerAddr.Name), nil)
					meta, err := client.Info(cCtx.Context, cCtx.String(flagKey.Name), backend)
					if err != nil {
						return err
					}
					return printJSON(meta)
				},
			},
			{
				Name:  "migrate",
				Usage: "Copy a document from one backend to another",
				Flags: []cli.Flag{
					flagKey,
					&cli.StringFlag{Name: "from", Required: true, Usage: "Source backend"},
					&cli.StringFlag{Name: "to", Required: true, Usage: "Destination backend"},
					&cli.BoolFlag{Name: "cleanup-source", Usage: "Delete the source copy once the destination is verified"},
				},
				Action: func(cCtx *cli.Context) error {
					from, err := interfaces.ParseBackendID(cCtx.String("from"))
					if err != nil {
						return err
					}
					to, err := interfaces.ParseBackendID(cCtx.String("to"))
					if err != nil {
						return err
					}

					client := clients.NewDocumentClient(cCtx.String(flagServerAddr.Name), nil)
					resp, err := client.Migrate(cCtx.Context, api.MigrateRequest{
						Key:           cCtx.String(flagKey.Name),
						From:          from,
						To:            to,
						CleanupSource: cCtx.Bool("cleanup-source"),
					})
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
