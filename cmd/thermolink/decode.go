package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/thermolink/internal/decoder"
	"github.com/srg/thermolink/internal/device"
	"github.com/srg/thermolink/internal/presence"
)

// decodeCmd represents the decode command
var decodeCmd = &cobra.Command{
	Use:   "decode <hex-payload>",
	Short: "Decode a captured temperature notification payload",
	Long: `Decodes a notification payload the same way the monitor command does.

The payload is a flags byte followed by a little-endian 4-byte value.

Examples:
  # IEEE-754 float32 22.5
  thermolink decode 000000b441

  # IEEE-11073 FLOAT 36.6 (mantissa 366, exponent -1)
  thermolink decode "00 6e 01 00 ff" --format ieee11073`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

var (
	decodeCharUUID string
	decodeFormat   string
	decodeJSON     bool
)

func init() {
	decodeCmd.Flags().StringVar(&decodeCharUUID, "char", device.TemperatureCharUUID, "Characteristic UUID the payload came from")
	decodeCmd.Flags().StringVar(&decodeFormat, "format", decoder.FormatIEEE754.String(), "Payload format: ieee754 or ieee11073")
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "Print the reading as JSON")
}

// parseHexPayload accepts hex with optional spaces, colons, dashes and 0x prefixes.
func parseHexPayload(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(s)
	if cleaned == "" {
		return nil, fmt.Errorf("payload is empty")
	}
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return data, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	data, err := parseHexPayload(args[0])
	if err != nil {
		return err
	}
	if _, err := device.ValidateUUID(decodeCharUUID); err != nil {
		return fmt.Errorf("--char: %w", err)
	}
	format, err := decoder.ParseFormat(decodeFormat)
	if err != nil {
		return fmt.Errorf("--format: %w", err)
	}

	cmd.SilenceUsage = true

	reading, ok := decoder.New(decoder.WithFormat(format), decoder.WithClock(clock)).Decode(decodeCharUUID, data)
	if !ok {
		switch {
		case !device.IsTemperatureCharacteristic(decodeCharUUID):
			return fmt.Errorf("characteristic %s is not a temperature measurement: %w", device.NormalizeUUID(decodeCharUUID), ErrUndecodable)
		case len(data) < decoder.MinPayloadLen:
			return fmt.Errorf("payload has %d bytes, need at least %d: %w", len(data), decoder.MinPayloadLen, ErrUndecodable)
		default:
			return fmt.Errorf("payload is not a valid %s value: %w", format, ErrUndecodable)
		}
	}

	if decodeJSON {
		rec := eventRecord(reading)
		rec.Delete("time")
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), presence.FormatTemperature(reading.Value))
	return nil
}
