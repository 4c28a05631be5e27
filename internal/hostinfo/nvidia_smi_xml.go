package hostinfo

import (
	"bytes"
	"context"
	"encoding/xml"
	"strconv"
	"strings"
)

type smiLog struct {
	XMLName xml.Name `xml:"nvidia_smi_log"`
	GPU     smiGPU   `xml:"gpu"`
}

type smiGPU struct {
	ProductName string `xml:"product_name"`
}

// parseNvidiaSMIXML returns the product name of the first GPU in `nvidia-smi -x -q` output.
func parseNvidiaSMIXML(b []byte) (string, error) {
	var log smiLog
	if err := xml.NewDecoder(bytes.NewReader(b)).Decode(&log); err != nil {
		return "", err
	}
	return strings.TrimSpace(log.GPU.ProductName), nil
}

func nvidiaGPUName(ctx context.Context, device int) (string, error) {
	b, err := output(ctx, "nvidia-smi", "-x", "-q", "-i", strconv.Itoa(device))
	if err != nil {
		return "", err
	}
	return parseNvidiaSMIXML(b)
}
