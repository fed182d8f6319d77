package kern_test

import (
	"context"
	"fmt"
	"os"

	"github.com/joeycumines/go-microkern/kern"
	"github.com/joeycumines/stumpy"
)

// Example boots a machine whose init thread spawns a worker, joins it, and
// shuts the machine down, with structured logs going to stdout as JSON.
func Example() {
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(os.Stdout),
			stumpy.WithTimeField(``),
		),
	).Logger()

	var k *kern.Kernel
	var err error
	k, err = kern.New(func(any) any {
		worker, err := k.Create(func(arg any) any {
			return arg.(int) * 2
		}, 40, "worker", 21)
		if err != nil {
			return err
		}

		var ret any
		if err := k.Join(worker, &ret); err != nil {
			return err
		}
		fmt.Println(ret)

		k.Shutdown()
		return nil
	}, kern.WithLogger(logger))
	if err != nil {
		panic(err)
	}

	if err := k.Run(context.Background()); err != nil {
		panic(err)
	}
}
