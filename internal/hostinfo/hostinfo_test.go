package hostinfo

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUInfo(t *testing.T) {
	in := "processor\t: 0\nvendor_id\t: GenuineIntel\nmodel name\t: Intel(R) Core(TM) i5-12400\nflags\t: fpu\n"
	assert.Equal(t, "Intel(R) Core(TM) i5-12400", parseCPUInfo(bufio.NewScanner(strings.NewReader(in))))
	assert.Equal(t, "", parseCPUInfo(bufio.NewScanner(strings.NewReader("processor: 0\n"))))
}

func TestParseSystemProfiler(t *testing.T) {
	out := `Graphics/Displays:

    Apple M2 Pro:

      Chipset Model: Apple M2 Pro
      Type: GPU
      Total Number of Cores: 19
`
	assert.Equal(t, "Apple M2 Pro", parseSystemProfiler(out))
	assert.Equal(t, "", parseSystemProfiler("nothing here"))
}

func TestParseRocmSMI(t *testing.T) {
	out := "GPU[0]\t\t: Card series:\t\tRadeon RX 7900 XTX\n"
	assert.Equal(t, "Radeon RX 7900 XTX", parseRocmSMI(out))
}

func TestParseNvidiaSMIXML(t *testing.T) {
	x := `<?xml version="1.0" ?>
<nvidia_smi_log>
  <gpu id="00000000:01:00.0">
    <product_name> NVIDIA GeForce RTX 4070 </product_name>
    <fb_memory_usage>
      <total>12282 MiB</total>
      <used>1024 MiB</used>
    </fb_memory_usage>
    <utilization>
      <gpu_util>66 %</gpu_util>
      <encoder_util>40 %</encoder_util>
      <decoder_util>12 %</decoder_util>
    </utilization>
  </gpu>
</nvidia_smi_log>`
	name, err := parseNvidiaSMIXML([]byte(x))
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA GeForce RTX 4070", name)

	_, err = parseNvidiaSMIXML([]byte("<broken"))
	assert.Error(t, err)
}

func TestGPUName_Software(t *testing.T) {
	assert.Equal(t, "CPU", GPUName(context.Background(), false))
}
