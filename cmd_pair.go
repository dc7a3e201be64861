package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newPairCmd completes a pairing handshake against a running hub from a
// terminal, without a browser or the mobile client. It requests a pairing
// code and immediately completes it, printing the resulting bearer token —
// useful for provisioning an API token for scripts on the same machine the
// hub is running on.
//
// This talks to the hub purely over its existing HTTP contract; it deliberately
// uses encoding/json rather than the server's jsoniter codec since it's a
// handful of outbound requests, not a hot path worth optimizing.
func newPairCmd() *cobra.Command {
	var addr, deviceName string

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "complete a pairing handshake from the terminal and print the bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: 10 * time.Second}

			var pairResp struct {
				PairingID string `json:"pairing_id"`
			}
			if err := postJSON(client, addr+"/api/auth/request-pairing", map[string]string{
				"device_name": deviceName,
			}, &pairResp); err != nil {
				return fmt.Errorf("request pairing: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "check the hub's own log or UI for the pairing code, then it will be completed automatically once entered")

			var code string
			fmt.Fprint(cmd.OutOrStdout(), "enter pairing code: ")
			if _, err := fmt.Fscanln(cmd.InOrStdin(), &code); err != nil {
				return fmt.Errorf("read pairing code: %w", err)
			}

			var token struct {
				Token    string `json:"token"`
				DeviceID string `json:"device_id"`
			}
			if err := postJSON(client, addr+"/api/auth/pair", map[string]string{
				"pairing_id":  pairResp.PairingID,
				"code":        code,
				"device_name": deviceName,
			}, &token); err != nil {
				return fmt.Errorf("complete pairing: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "paired as device %s, token: %s\n", token.DeviceID, token.Token)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:47621", "base URL of the running hub")
	cmd.Flags().StringVar(&deviceName, "name", "cli", "friendly name to register the device under")

	return cmd
}

func postJSON(client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, string(data))
	}
	return json.Unmarshal(data, out)
}
