package server

import (
	"errors"
	"net"
	"os"
)

// LocalIP returns the private IPv4 address this host is reachable at
// on the LAN. The mobile app and the viewer URL both need an address a
// phone on the same network can dial, so loopback and public addresses
// do not qualify.
func LocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip := ipnet.IP.To4(); ip != nil && ip.IsPrivate() && !ip.IsLoopback() {
			return ip.String(), nil
		}
	}

	// Some setups (VPNs, containers) hide the LAN interface from the
	// address walk; resolving our own hostname can still turn it up.
	if hostname, err := os.Hostname(); err == nil {
		if ips, err := net.LookupIP(hostname); err == nil {
			for _, ip := range ips {
				if v4 := ip.To4(); v4 != nil && v4.IsPrivate() && !v4.IsLoopback() {
					return v4.String(), nil
				}
			}
		}
	}
	return "", errors.New("no private IPv4 address on any interface")
}

// advertiseHost is the address put into self-reported viewer URLs.
func (s *Server) advertiseHost() string {
	if ip, err := LocalIP(); err == nil {
		return ip
	}
	if s.cfg.Host != "" && s.cfg.Host != "0.0.0.0" {
		return s.cfg.Host
	}
	return "127.0.0.1"
}
