package utils

import (
	"errors"
	"net"
)

var ErrNoLocalIP = errors.New("no non-loopback ipv4 address found")

// GetLocalIP 返回本机第一个非回环 IPv4 地址，用于 Kafka client.id 等标识
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", ErrNoLocalIP
}
