package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piwi3910/iloctl/pkg/domain"
)

func newVMediaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vmedia",
		Short: "Manage virtual media mounts",
	}
	cmd.AddCommand(newVMediaShowCommand())
	cmd.AddCommand(newVMediaMountCommand())
	cmd.AddCommand(newVMediaEjectCommand())
	cmd.AddCommand(newVMediaUploadCommand())
	return cmd
}

func newVMediaShowCommand() *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current media mount",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			t, err := rt.target()
			if err != nil {
				return err
			}
			state, err := rt.fetchState(ctx, t, &domain.VirtualMediaRequest{Device: device})
			if err != nil {
				return err
			}
			printState(t.Name, state)
			return nil
		}),
	}
	cmd.Flags().StringVar(&device, "device", "", "media device (cdrom, floppy; default cdrom)")
	return cmd
}

func newVMediaMountCommand() *cobra.Command {
	var (
		device   string
		bootOnce bool
	)
	cmd := &cobra.Command{
		Use:   "mount <image-url>",
		Short: "Mount an image over the network",
		Long: `Mount an image over the network.

The image URL must be reachable from the iLO itself, over http, https,
or nfs. --boot-once arms the mount as the boot device for exactly one
host restart.`,
		Args: cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			req := &domain.VirtualMediaRequest{
				Device:   device,
				ImageURL: args[0],
				BootOnce: bootOnce,
			}
			if err := req.Validate(); err != nil {
				return err
			}
			t, err := rt.target()
			if err != nil {
				return err
			}
			return rt.reconcileOne(ctx, t, req)
		}),
	}
	cmd.Flags().StringVar(&device, "device", "", "media device (cdrom, floppy; default cdrom)")
	cmd.Flags().BoolVar(&bootOnce, "boot-once", false, "boot from the image on the next restart only")
	return cmd
}

func newVMediaUploadCommand() *cobra.Command {
	var (
		mediaHost string
		mediaPath string
	)
	cmd := &cobra.Command{
		Use:   "upload <local-image>",
		Short: "Stage an image on a media host",
		Long: `Stage an image on a media host.

iLO mounts images over the network, so the file must first live on a
host the iLO can reach. The media host is a regular inventory target;
the image is copied there over SFTP. Mount it afterwards with
vmedia mount and the URL the media host serves it under.`,
		Args: cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			if mediaHost == "" || mediaPath == "" {
				return fmt.Errorf("both --media-host and --media-path are required")
			}
			t, err := rt.namedTarget(mediaHost)
			if err != nil {
				return err
			}
			client, err := rt.connect(ctx, t)
			if err != nil {
				return err
			}
			defer rt.disconnect(client)

			if err := client.UploadFile(ctx, args[0], mediaPath, 0o644); err != nil {
				return fmt.Errorf("uploading %s to %s: %w", args[0], mediaHost, err)
			}
			if jsonOutput {
				printJSON(map[string]any{"uploaded": args[0], "host": mediaHost, "path": mediaPath})
				return nil
			}
			fmt.Printf("uploaded %s to %s:%s\n", args[0], mediaHost, mediaPath)
			return nil
		}),
	}
	cmd.Flags().StringVar(&mediaHost, "media-host", "", "inventory target that serves images to the iLO")
	cmd.Flags().StringVar(&mediaPath, "media-path", "", "destination path on the media host")
	return cmd
}

func newVMediaEjectCommand() *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "eject",
		Short: "Eject the mounted image",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			req := &domain.VirtualMediaRequest{Device: device, Eject: true}
			if err := req.Validate(); err != nil {
				return err
			}
			t, err := rt.target()
			if err != nil {
				return err
			}
			return rt.reconcileOne(ctx, t, req)
		}),
	}
	cmd.Flags().StringVar(&device, "device", "", "media device (cdrom, floppy; default cdrom)")
	return cmd
}
