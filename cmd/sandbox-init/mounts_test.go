//go:build linux

package main

import (
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

func mountAt(point string, opts ...string) *procfs.MountInfo {
	m := &procfs.MountInfo{MountPoint: point, Options: map[string]string{}}
	for _, o := range opts {
		m.Options[o] = ""
	}
	return m
}

func TestRemountPlan(t *testing.T) {
	mounts := []*procfs.MountInfo{
		mountAt("/", "rw", "relatime"),
		mountAt("/proc", "rw", "nosuid", "nodev", "noexec"),
		mountAt("/dev/shm", "rw", "nosuid", "nodev"),
		mountAt("/sys/fs/cgroup", "rw"),
		mountAt("/home", "rw", "nosuid", "nodev"),
		mountAt("/boot", "ro"),
		mountAt("/tmp", "rw", "nosuid"),
		mountAt("/var/lib/codejudge/s1/work", "rw"),
		mountAt(`/mnt/with\040space`, "rw", "noexec"),
	}
	keep := []string{"/tmp", "/var/tmp", "/var/lib/codejudge/s1/work", "/var/lib/codejudge/s1/io"}

	got := remountPlan(mounts, keep)
	want := []remount{
		{target: "/", flags: unix.MS_RELATIME},
		{target: "/home", flags: unix.MS_NOSUID | unix.MS_NODEV},
		{target: "/mnt/with space", flags: unix.MS_NOEXEC},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected plan:\n got %+v\nwant %+v", got, want)
	}
}

func TestWritableDirs(t *testing.T) {
	cases := []struct {
		name string
		spec runSpec
		want []string
	}{
		{
			name: "separate io dir",
			spec: runSpec{WorkDir: "/s/work", StdoutPath: "/s/io/run-1.stdout", StderrPath: "/s/io/run-1.stderr"},
			want: []string{"/s/work", "/s/io"},
		},
		{
			name: "output inside work dir",
			spec: runSpec{WorkDir: "/s/work/", StdoutPath: "/s/work/out/o"},
			want: []string{"/s/work"},
		},
		{
			name: "no output files",
			spec: runSpec{WorkDir: "/s/work"},
			want: []string{"/s/work"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := writableDirs(tc.spec); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWithin(t *testing.T) {
	cases := []struct {
		p, dir string
		want   bool
	}{
		{"/tmp", "/tmp", true},
		{"/tmp/a", "/tmp", true},
		{"/tmpfoo", "/tmp", false},
		{"/anything", "/", true},
		{"/var", "/var/tmp", false},
	}
	for _, tc := range cases {
		if got := within(tc.p, tc.dir); got != tc.want {
			t.Fatalf("within(%q, %q) = %v", tc.p, tc.dir, got)
		}
	}
}

func TestDecodeScratchDirs(t *testing.T) {
	req, err := decodeRequest(strings.NewReader(`{"RunSpec":{"WorkDir":"/w","Cmd":["x"]},"Isolation":{"ScratchDirs":["/tmp","/dev/shm"]},"EnableNs":true}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !req.EnableNs || !reflect.DeepEqual(req.Isolation.ScratchDirs, []string{"/tmp", "/dev/shm"}) {
		t.Fatalf("isolation not decoded: %+v", req.Isolation)
	}
}
