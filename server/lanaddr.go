package server

import (
	"errors"
	"net"
	"strings"
)

var ErrNoLANAddress = errors.New("no LAN address")

type ifaceAddr struct {
	up       bool
	loopback bool
	addr     net.Addr
}

// LANAddress picks the address a phone on the same network should use.
func LANAddress() (net.IP, error) {
	addrs, err := interfaceAddrs()
	if err == nil {
		if ip := pickLANAddress(addrs); ip != nil {
			return ip, nil
		}
	}

	return outboundIP()
}

func interfaceAddrs() ([]ifaceAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []ifaceAddr
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			out = append(out, ifaceAddr{
				up:       iface.Flags&net.FlagUp != 0,
				loopback: iface.Flags&net.FlagLoopback != 0,
				addr:     a,
			})
		}
	}

	return out, nil
}

// pickLANAddress returns the first non-internal IPv4 that is not a .1
// gateway address and not on a /8.
func pickLANAddress(addrs []ifaceAddr) net.IP {
	for _, a := range addrs {
		if !a.up || a.loopback {
			continue
		}

		ipnet, ok := a.addr.(*net.IPNet)
		if !ok {
			continue
		}

		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLoopback() {
			continue
		}

		if strings.HasSuffix(ip.String(), ".1") {
			continue
		}

		if mask := ipnet.Mask; len(mask) >= 4 && net.IP(mask[len(mask)-4:]).Equal(net.IPv4(255, 0, 0, 0)) {
			continue
		}

		return ip
	}

	return nil
}

func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, errors.Join(ErrNoLANAddress, err)
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP, nil
}
