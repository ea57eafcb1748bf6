package webapi

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
)

type sysInfo struct {
	Hostname string   `json:"hostname"`
	IPs      []string `json:"ips"`
	UptimeS  *float64 `json:"uptime_s"`
	CPUTempC *float64 `json:"cpu_temp_c"`
}

func (m *Module) handleSysInfo(w http.ResponseWriter, r *http.Request) {
	info := sysInfo{IPs: []string{}}
	info.Hostname, _ = os.Hostname()
	info.IPs = localAddresses()
	info.UptimeS = readUptime(m.uptimePath)
	info.CPUTempC = readCPUTemp(m.tempPath)
	writeJSON(w, http.StatusOK, info)
}

func localAddresses() []string {
	ips := []string{}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
			continue
		}
		ips = append(ips, ipNet.IP.String())
	}
	return ips
}

func readUptime(path string) *float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return nil
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil
	}
	return &seconds
}

// readCPUTemp reads a sysfs thermal zone, reported in millidegrees.
func readCPUTemp(path string) *float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return nil
	}
	celsius := milli / 1000
	return &celsius
}
