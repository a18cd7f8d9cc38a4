package platform

// NetworkDown tears down all network interfaces before a chain-boot
// (spec §4.1 bootInto sequence: ifdown -a, umount -ar, sync, reboot).
func NetworkDown() error {
	return Command{}.Run("network down", "ifdown", "-a")
}

// UnmountAll unmounts every mounted filesystem the kernel knows about.
func UnmountAll() error {
	return Command{}.Run("unmount all", "umount", "-ar")
}
