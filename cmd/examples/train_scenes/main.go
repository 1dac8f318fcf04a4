package main

import (
	"fmt"
	"path"
	"time"

	swapnerf "github.com/miramirakim227/SwapNeRF"
	"gorgonia.org/gorgonia"
)

var (
	outputFolder  = "./output"
	batchSize     = 8
	imageSize     = 16
	latentDim     = 64
	hiddenDim     = 128
	numSamples    = 64
	numIterations = 500
	visEvery      = 100
	evalEvery     = 250
	learnRateGen  = 0.0005
	learnRateDisc = 0.0001
	reconWeight   = 10.0
)

func main() {
	// Prepare synthetic scene data
	trainSet, err := swapnerf.GenerateSceneSet(numSamples, imageSize, 1337)
	if err != nil {
		panic(err)
	}

	// Define Generator and Discriminator on separate evaluation graphs
	generatorGraph := gorgonia.NewGraph()
	discriminatorGraph := gorgonia.NewGraph()

	generator, err := swapnerf.NewSceneGenerator(generatorGraph, swapnerf.GeneratorConfig{
		ImageSize: imageSize,
		LatentDim: latentDim,
		HiddenDim: hiddenDim,
	})
	if err != nil {
		panic(err)
	}
	discriminator, err := swapnerf.DefaultDiscriminator(discriminatorGraph, imageSize, 3, 16)
	if err != nil {
		panic(err)
	}

	// Reference statistics for FID are taken from the real training set itself
	realFeatures, err := swapnerf.PooledFeatures(trainSet.Images)
	if err != nil {
		panic(err)
	}
	fidStats, err := swapnerf.ActivationStatistics(realFeatures)
	if err != nil {
		panic(err)
	}

	trainer, err := swapnerf.NewTrainer(swapnerf.Config{
		Generator:              generator,
		Discriminator:          discriminator,
		GeneratorOptimizer:     swapnerf.NewAdam(learnRateGen, batchSize),
		DiscriminatorOptimizer: swapnerf.NewAdam(learnRateDisc, batchSize),
		BatchSize:              batchSize,
		VisDir:                 path.Join(outputFolder, "vis"),
		ValVisDir:              path.Join(outputFolder, "val"),
		FID:                    fidStats,
		ReconWeight:            reconWeight,
	})
	if err != nil {
		panic(err)
	}
	defer trainer.Close()

	history := swapnerf.NewMetricHistory()

	/* Training process */
	st := time.Now()
	batches := trainSet.Count / batchSize
	for it := 0; it < numIterations; it++ {
		batch, err := trainSet.Batch((it%batches)*batchSize, batchSize)
		if err != nil {
			panic(err)
		}
		metrics, err := trainer.TrainStep(batch, it)
		if err != nil {
			panic(err)
		}
		history.Append(metrics)

		if it%visEvery == 0 {
			fmt.Printf("Iteration %d:\n", it)
			fmt.Printf("\tGenerator's loss: %v\n", metrics["generator_total"])
			fmt.Printf("\tDiscriminator's loss: %v\n", metrics["discriminator"])
			fmt.Printf("\tTaken time: %v\n", time.Since(st))
			st = time.Now()
			if _, err := trainer.VisualizeSnapshot(batch, it); err != nil {
				panic(err)
			}
		}
		if it > 0 && it%evalEvery == 0 {
			evalMetrics, err := trainer.EvalStep()
			if err != nil {
				panic(err)
			}
			fmt.Printf("\tFID score: %v\n", evalMetrics["fid_score"])
		}
	}

	// Final validation pass with a saved grid
	batch, err := trainSet.Batch(0, batchSize)
	if err != nil {
		panic(err)
	}
	_, psnr, ssim, err := trainer.ValidationSnapshot(batch, numIterations)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Final PSNR: %.3f, SSIM: %.3f\n", psnr, ssim)

	// Loss curves
	for _, name := range []string{"generator_total", "discriminator", "recon"} {
		if err := history.PlotMetric(name, path.Join(outputFolder, name+".png")); err != nil {
			panic(err)
		}
	}
}
