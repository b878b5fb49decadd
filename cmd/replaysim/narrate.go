package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/hohice/mysql-replay-module/pkg/host"
)

// splicedPacket is one frame the narrateSink observed go out through
// save_pack during a renew splice.
type splicedPacket struct {
	kind    string
	seq     uint32
	payload []byte
}

// narrateSink implements host.PacketSink: it records every spliced packet
// and, when verbose, prints a colorized line as each one is emitted. It is
// the demo-CLI analogue of the host's real save_pack sliding-window sink.
type narrateSink struct {
	verbose bool
	emitted []splicedPacket
}

func newNarrateSink(verbose bool) *narrateSink {
	return &narrateSink{verbose: verbose}
}

func (s *narrateSink) SavePack(_ *host.Session, _ *host.IPHeader, tcp *host.TCPHeader, payload []byte) error {
	var kind string
	switch len(s.emitted) {
	case 0:
		kind = "first-auth"
	case 1:
		kind = "second-auth/ps[0]"
	default:
		kind = fmt.Sprintf("ps[%d]", len(s.emitted)-1)
	}
	s.emitted = append(s.emitted, splicedPacket{kind: kind, seq: tcp.Seq, payload: append([]byte(nil), payload...)})
	if s.verbose {
		fmt.Println(color.CyanString("  splice -> seq=%d len=%d", tcp.Seq, len(payload)))
	}
	return nil
}

// renderSummary prints the FirstAuth/SecondAuth/PreparedStmt packets the
// splicer emitted, the demo's stand-in for operator inspection of the
// three replay-cache tables.
func (s *narrateSink) renderSummary(out io.Writer) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"#", "kind", "seq", "payload bytes"})
	table.SetHeaderColor(
		tablewriter.Colors{tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.FgHiCyanColor},
	)
	for i, p := range s.emitted {
		table.Append([]string{
			fmt.Sprintf("%d", i),
			p.kind,
			fmt.Sprintf("%d", p.seq),
			fmt.Sprintf("%d", len(p.payload)),
		})
	}
	table.Render()
}
