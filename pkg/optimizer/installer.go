package optimizer

import (
	"context"
	"time"

	"github.com/newtron-network/fibopt/pkg/device"
	"github.com/newtron-network/fibopt/pkg/prefixlist"
	"github.com/newtron-network/fibopt/pkg/util"
)

// InstallOrder is the device push order. The aggregate list goes first so
// traffic keeps a fast-path match while the exact-length list is replaced.
var InstallOrder = []prefixlist.Class{prefixlist.LPM, prefixlist.LEM}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Installer pushes both lists to the device, one class at a time with a
// settle interval in between.
type Installer struct {
	channel device.Channel
	store   *prefixlist.Store
	settle  time.Duration
	sleep   SleepFunc
}

// NewInstaller creates an installer that reads list files from store
func NewInstaller(channel device.Channel, store *prefixlist.Store, settle time.Duration) *Installer {
	return &Installer{channel: channel, store: store, settle: settle, sleep: sleepContext}
}

// Install pushes lists in InstallOrder. The first failure stops the sequence
// and is returned as an InstallFailedError naming the class.
func (i *Installer) Install(ctx context.Context, lists map[prefixlist.Class]prefixlist.List) error {
	for n, class := range InstallOrder {
		if n > 0 {
			util.Debugf("Waiting %s before pushing %s", i.settle, class)
			if err := i.sleep(ctx, i.settle); err != nil {
				return &util.InstallFailedError{Class: class.String(), Err: err}
			}
		}
		if err := i.Apply(ctx, class, lists[class]); err != nil {
			return err
		}
	}
	return nil
}

// Apply pushes a single class
func (i *Installer) Apply(ctx context.Context, class prefixlist.Class, l prefixlist.List) error {
	pl := device.PrefixList{
		Name:    class.ListName(),
		Path:    i.store.Path(class),
		Entries: l,
	}
	if err := i.channel.Apply(ctx, pl); err != nil {
		return &util.InstallFailedError{Class: class.String(), Err: err}
	}
	util.WithClass(class.String()).Infof("Installed %s (%d entries)", pl.Name, len(l))
	return nil
}
