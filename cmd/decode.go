package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lowpansniff/internal/config"
	"lowpansniff/internal/engine"
	"lowpansniff/internal/models"
)

var (
	decodeFormat string
	decodeDetail int
	decodeJSON   bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <file>",
	Short: "Decode a capture file and print packets and topology",
	Long: `Decode a raw sniffer dump or a pcap/pcapng file (link type 195 or 230) and
print the packet list followed by the topology.

Examples:
  lowpansniff decode dump.bin
  lowpansniff decode capture.pcapng --detail 12
  lowpansniff decode dump.bin --format raw --json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			exitWithError("failed to load config", err)
		}
		eng, err := decodeFile(cmd.Context(), cfg, args[0], decodeFormat)
		if err != nil {
			exitWithError("decode failed", err)
		}
		if err := printDecoded(os.Stdout, eng, decodeDetail, decodeJSON); err != nil {
			exitWithError("write output", err)
		}
	},
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeFormat, "format", "f", "auto", "input format: auto, raw or pcap")
	decodeCmd.Flags().IntVarP(&decodeDetail, "detail", "d", 0, "print the header tree of this packet number")
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "print packets and topology as JSON")
}

// decodeFile runs the whole file through a fresh engine.
func decodeFile(ctx context.Context, cfg *config.Config, path, format string) (*engine.Engine, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if format == "auto" {
		format = "raw"
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pcap", ".pcapng", ".cap":
			format = "pcap"
		}
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}

	switch format {
	case "pcap":
		return eng, eng.LoadPcap(path)
	case "raw":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return eng, eng.Run(ctx, f, path)
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
}

type decodeOutput struct {
	Packets  []models.PacketInfo     `json:"packets"`
	Topology models.TopologySnapshot `json:"topology"`
	Nodes    []models.NodeInfo       `json:"nodes"`
	Stats    models.CaptureStats     `json:"stats"`
}

func printDecoded(w io.Writer, eng *engine.Engine, detail int, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(decodeOutput{
			Packets:  eng.Packets(),
			Topology: eng.Topology(),
			Nodes:    eng.Nodes(),
			Stats:    eng.Stats(),
		})
	}

	if detail > 0 {
		info, ok := eng.PacketDetail(detail)
		if !ok {
			return fmt.Errorf("packet %d not found", detail)
		}
		writeLayers(w, info.Layers)
		fmt.Fprintln(w)
		fmt.Fprintln(w, info.HexDump)
		return nil
	}

	writePacketTable(w, eng.Packets())
	fmt.Fprintln(w)
	writeTopology(w, eng.Nodes(), eng.Topology())

	s := eng.Stats()
	fmt.Fprintf(w, "\n%d frames, %d packets, %d decode errors, %d invalid checksums\n",
		s.FrameCount, s.PacketCount, s.DecodeErrors, s.InvalidChecksum)
	return nil
}

func writePacketTable(w io.Writer, pkts []models.PacketInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "No.\tTime\tSource\tDestination\tProtocol\tLength\tInfo")
	for _, p := range pkts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			p.Number, p.Timestamp, p.SrcAddr, p.DstAddr, p.Protocol, p.Length, p.Info)
	}
	tw.Flush()
}

func writeTopology(w io.Writer, nodes []models.NodeInfo, snap models.TopologySnapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Node\tId\tPackets")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", n.Address, n.Identifier, n.PacketCount)
	}
	tw.Flush()

	fmt.Fprintln(w)
	for _, e := range snap.Edges {
		fmt.Fprintf(w, "%s -> %s\n", e.Src, e.Dst)
	}
}

func writeLayers(w io.Writer, layers []models.LayerDetail) {
	for _, l := range layers {
		fmt.Fprintln(w, l.Name)
		writeFields(w, l.Fields, 1)
	}
}

func writeFields(w io.Writer, fields []models.LayerField, depth int) {
	indent := strings.Repeat("    ", depth)
	for _, f := range fields {
		fmt.Fprintf(w, "%s%s: %s\n", indent, f.Name, f.Value)
		writeFields(w, f.Children, depth+1)
	}
}
