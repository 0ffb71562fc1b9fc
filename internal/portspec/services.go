package portspec

import "github.com/nao1215/portscan/internal/model"

// tcpServices are the IANA names of well-known TCP ports.
var tcpServices = map[uint16]string{
	7: "echo", 9: "discard", 13: "daytime", 21: "ftp", 22: "ssh", 23: "telnet",
	25: "smtp", 37: "time", 53: "domain", 79: "finger", 80: "http", 81: "http-alt",
	88: "kerberos", 106: "pop3pw", 110: "pop3", 111: "rpcbind", 113: "ident",
	119: "nntp", 135: "msrpc", 139: "netbios-ssn", 143: "imap", 179: "bgp",
	389: "ldap", 443: "https", 445: "microsoft-ds", 465: "smtps", 513: "login",
	514: "shell", 515: "printer", 548: "afp", 554: "rtsp", 587: "submission",
	631: "ipp", 636: "ldaps", 873: "rsync", 990: "ftps", 993: "imaps", 995: "pop3s",
	1080: "socks", 1433: "ms-sql-s", 1521: "oracle", 1723: "pptp", 2049: "nfs",
	2121: "ftp-alt", 2222: "ssh-alt", 2375: "docker", 2376: "docker-tls",
	2525: "smtp-alt", 3000: "ppp", 3128: "squid-http", 3306: "mysql",
	3389: "ms-wbt-server", 4369: "epmd", 5000: "upnp", 5060: "sip", 5432: "postgresql",
	5672: "amqp", 5900: "vnc", 5984: "couchdb", 6379: "redis", 6443: "kubernetes",
	7000: "cassandra", 8000: "http-alt", 8008: "http", 8080: "http-proxy",
	8081: "blackice-icecap", 8443: "https-alt", 8888: "sun-answerbook",
	9000: "cslistener", 9042: "cassandra-cql", 9100: "jetdirect", 9200: "elasticsearch",
	9443: "tungsten-https", 11211: "memcache", 27017: "mongod", 27018: "mongod",
	28017: "mongod-http",
}

// udpServices are the IANA names of well-known UDP ports.
var udpServices = map[uint16]string{
	7: "echo", 53: "domain", 67: "dhcps", 68: "dhcpc", 69: "tftp", 111: "rpcbind",
	123: "ntp", 137: "netbios-ns", 138: "netbios-dgm", 161: "snmp", 162: "snmptrap",
	500: "isakmp", 514: "syslog", 520: "route", 1194: "openvpn", 1900: "upnp",
	4500: "nat-t-ike", 5060: "sip", 5353: "mdns", 11211: "memcache",
}

// ServiceName returns the well-known service name of port, or "" if none.
func ServiceName(port uint16, transport model.Transport) string {
	if transport == model.TransportUDP {
		return udpServices[port]
	}
	return tcpServices[port]
}
