// Command framedump decodes a captured bus response frame or a recorded
// transport message and prints it, or writes it as CSV.
//
// Usage:
//
//	go run ./tools [-csv] [-stride N] capture.bin
//
// A file of PACKET_SIZE bytes is decoded as a controller response frame; a
// file of 4+PACKET_SIZE bytes starting with START_MARKER is read as a
// transport message.
package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/CK6170/ccdscope-go/file"
	"github.com/CK6170/ccdscope-go/models"
	"github.com/CK6170/ccdscope-go/protocol"
	"github.com/CK6170/ccdscope-go/spectrum"
	"github.com/CK6170/ccdscope-go/ui"
)

func main() {
	asCSV := flag.Bool("csv", false, "write pixel,px,value CSV to stdout")
	stride := flag.Int("stride", 64, "print every Nth pixel")
	flag.Parse()
	log.SetFlags(0)
	log.SetOutput(ui.NewRedWriter(os.Stderr))
	if flag.NArg() != 1 {
		log.Fatal("usage: framedump [-csv] [-stride N] capture.bin")
	}
	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("read: %v", err)
	}

	s := spectrum.New()
	switch {
	case len(data) == protocol.PacketSize:
		if err := protocol.DecodeFrame(s, data); err != nil {
			log.Fatalf("decode: %v", err)
		}
	case len(data) == 4+protocol.PacketSize && bytes.Equal(data[:4], protocol.StartMarker[:]):
		for i := range s {
			s[i] = binary.LittleEndian.Uint16(data[4+2*i:])
		}
	default:
		log.Fatalf("%d bytes is neither a response frame (%d) nor a transport message (%d)",
			len(data), protocol.PacketSize, 4+protocol.PacketSize)
	}

	if *asCSV {
		if err := file.SpectrumCSV(os.Stdout, s, models.PIXEL, nil); err != nil {
			log.Fatal(err)
		}
		return
	}
	idx, peak := s.Peak()
	ui.Greenf("%s: peak %d at pixel %d, floor %d\n", flag.Arg(0), peak, idx, s.Min())
	spectrum.Print(s, "spectrum", false)
	if *stride > 0 {
		ui.Greenf("%s\n", s.ToStrings(fmt.Sprintf("every %d pixels", *stride), *stride))
	}
}
