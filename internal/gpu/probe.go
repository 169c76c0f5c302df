package gpu

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeArgs are the nvidia-smi arguments whose output ParseInventory reads.
var ProbeArgs = []string{"--query-gpu=index,memory.total,memory.free", "--format=csv,noheader,nounits"}

// Probe lists the devices visible to smiBin (nvidia-smi when empty).
func Probe(ctx context.Context, smiBin string) ([]Device, error) {
	if smiBin == "" {
		smiBin = "nvidia-smi"
	}
	out, err := exec.CommandContext(ctx, smiBin, ProbeArgs...).Output()
	if err != nil {
		return nil, fmt.Errorf("probe accelerators with %s: %w", smiBin, err)
	}
	return ParseInventory(string(out))
}

// ParseInventory parses "index, total, free" lines.
func ParseInventory(out string) ([]Device, error) {
	var devices []Device
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("unexpected inventory line %q", line)
		}
		var nums [3]int
		for i, f := range fields {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return nil, fmt.Errorf("unexpected inventory line %q: %w", line, err)
			}
			nums[i] = n
		}
		devices = append(devices, Device{Index: nums[0], TotalMB: nums[1], FreeMB: nums[2]})
	}
	return devices, sc.Err()
}
