package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"cowechat/internal/domain"
	"cowechat/internal/wecom"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	var (
		msg      domain.OutboundMessage
		upload   string
		fromFile string
	)
	cmd := &cobra.Command{
		Use:   "send <text|image|voice|video|file>",
		Short: "Send a message to users, departments or tags",
		Example: `  cowechat send text --to-user alice --content "deploy finished"
  cowechat send image --to-party 2 --upload ./chart.png
  echo "disk almost full" | cowechat send text --to-tag 1 --content -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg.Kind = domain.MessageKind(args[0])

			if msg.Content == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read content from stdin: %w", err)
				}
				msg.Content = strings.TrimRight(string(data), "\n")
			}
			if fromFile != "" {
				data, err := os.ReadFile(fromFile)
				if err != nil {
					return fmt.Errorf("read content file: %w", err)
				}
				msg.Content = string(data)
			}

			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			client, err := rt.client(cmd.Context())
			if err != nil {
				return err
			}

			if upload != "" {
				body, err := client.Upload(cmd.Context(), args[0], upload)
				if err != nil {
					return err
				}
				if msg.MediaID, err = wecom.ParseMediaID(body); err != nil {
					return fmt.Errorf("upload %s: %w", upload, err)
				}
			}

			if err := client.Send(cmd.Context(), msg); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&msg.ToUser, "to-user", nil, "recipient user ids (repeatable or comma separated, @all for everyone)")
	f.StringSliceVar(&msg.ToParty, "to-party", nil, "recipient department ids")
	f.StringSliceVar(&msg.ToTag, "to-tag", nil, "recipient tag ids")
	f.StringVar(&msg.Content, "content", "", "text content (- reads stdin)")
	f.StringVar(&fromFile, "content-file", "", "read text content from a file")
	f.StringVar(&msg.MediaID, "media-id", "", "media id from a previous upload")
	f.StringVar(&upload, "upload", "", "upload this file first and send it")
	f.StringVar(&msg.Title, "title", "", "video title")
	f.StringVar(&msg.Description, "description", "", "video description")
	return cmd
}

func uploadCmd() *cobra.Command {
	var fileType, path string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a temporary media file and print the raw response",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.Close()

			client, err := rt.client(cmd.Context())
			if err != nil {
				return err
			}
			body, err := client.Upload(cmd.Context(), fileType, path)
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
	cmd.Flags().StringVarP(&fileType, "type", "t", "", "media type: image, voice, video or file")
	cmd.Flags().StringVarP(&path, "file", "f", "", "path of the file to upload")
	return cmd
}
