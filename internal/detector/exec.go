package detector

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"k8s.io/klog/v2"
)

// maxExecCache is the maximum number of graphs cached per executor: one per padded batch size and image geometry.
const maxExecCache = 32

// createExecutors for the training and inference pipelines. They share the detector context.
func (d *Detector) createExecutors() {
	muNewExec.Lock()
	defer muNewExec.Unlock()
	ctx := d.ctx
	d.forwardTrainExec = context.NewExec(d.backend, ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			d.compiling("forward_train", inputs[0])
			var attributes *Node
			if len(inputs) > 4 {
				attributes = inputs[4]
			}
			losses := d.ForwardTrainGraph(ctx, inputs[0], inputs[1], inputs[2], inputs[3], attributes)
			return []*Node{losses[LossVisibility], losses[LossRegression]}
		})
	d.forwardTrainExec.SetMaxCache(maxExecCache)
	d.simpleTestExec = context.NewExec(d.backend, ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			d.compiling("simple_test", inputs[0])
			visible, coordinates := d.SimpleTestGraph(ctx, inputs[0])
			return []*Node{visible, coordinates}
		})
	d.simpleTestExec.SetMaxCache(maxExecCache)
	d.augTestExec = context.NewExec(d.backend, ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			d.compiling("aug_test", inputs[0])
			visible, coordinates := d.AugTestGraph(ctx, inputs[0])
			return []*Node{visible, coordinates}
		})
	d.augTestExec.SetMaxCache(maxExecCache)
}

// compiling is called whenever a new graph is built by one of the executors.
func (d *Detector) compiling(pipeline string, input *Node) {
	d.NumCompilations++
	klog.V(1).Infof("Building %s graph for input shaped %s", pipeline, input.Shape())
}
