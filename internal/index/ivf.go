package index

import (
	"math"
	"math/rand"
	"sort"

	"career-agent-go/pkg/vecmath"
)

// ivfPartition 倒排文件分区：球面 k-means 质心 + 每个分区的条目下标
type ivfPartition struct {
	centroids [][]float64
	lists     [][]int
}

// trainIVF 以 k-means++ 初始化（固定种子）训练分区，输入向量均已归一化
func trainIVF(vecs [][]float64, opts BuildOptions) *ivfPartition {
	n := len(vecs)
	nlist := opts.NList
	if nlist <= 0 {
		nlist = int(math.Round(math.Sqrt(float64(n))))
	}
	if nlist < 1 {
		nlist = 1
	}
	if nlist > n {
		nlist = n
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	centroids := seedCentroids(vecs, nlist, rng)
	assign := make([]int, n)

	for iter := 0; iter < opts.KMeansIter; iter++ {
		changed := iter == 0
		for i, v := range vecs {
			if c := nearestCentroid(centroids, v); c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		centroids = recomputeCentroids(vecs, assign, centroids)
		if !changed {
			break
		}
	}
	// 用最终质心重新分配，保证分区与质心一致
	for i, v := range vecs {
		assign[i] = nearestCentroid(centroids, v)
	}

	p := &ivfPartition{centroids: centroids, lists: make([][]int, len(centroids))}
	for i, c := range assign {
		p.lists[c] = append(p.lists[c], i)
	}
	return p
}

// seedCentroids k-means++：按与最近已选质心的距离平方加权抽样
func seedCentroids(vecs [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(vecs)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, vecs[rng.Intn(n)])
	dist := make([]float64, n)
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	for len(centroids) < k {
		last := centroids[len(centroids)-1]
		total := 0.0
		for i, v := range vecs {
			if d := vecmath.SquaredDistance(v, last); d < dist[i] {
				dist[i] = d
			}
			total += dist[i]
		}
		if total == 0 {
			// 剩余点与已有质心重合，无法再区分
			break
		}
		r := rng.Float64() * total
		pick := n - 1
		for i, d := range dist {
			r -= d
			if r <= 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, vecs[pick])
	}
	return centroids
}

func nearestCentroid(centroids [][]float64, v []float64) int {
	best, bestSim := 0, math.Inf(-1)
	for c, cv := range centroids {
		if s := vecmath.Dot(v, cv); s > bestSim {
			best, bestSim = c, s
		}
	}
	return best
}

// recomputeCentroids 取分区均值并归一化；空分区保留原质心
func recomputeCentroids(vecs [][]float64, assign []int, prev [][]float64) [][]float64 {
	dim := len(vecs[0])
	sums := make([][]float64, len(prev))
	counts := make([]int, len(prev))
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for i, v := range vecs {
		c := assign[i]
		counts[c]++
		for d, x := range v {
			sums[c][d] += x
		}
	}
	out := make([][]float64, len(prev))
	for c := range sums {
		if counts[c] == 0 {
			out[c] = prev[c]
			continue
		}
		if nv := vecmath.Normalize(sums[c]); nv != nil {
			out[c] = nv
		} else {
			out[c] = prev[c]
		}
	}
	return out
}

// probe 返回与查询最接近的 nprobe 个分区内的全部条目下标
func (p *ivfPartition) probe(q []float64, nprobe int) []int {
	if nprobe <= 0 {
		nprobe = 1
	}
	if nprobe > len(p.centroids) {
		nprobe = len(p.centroids)
	}
	order := make([]int, len(p.centroids))
	sims := make([]float64, len(p.centroids))
	for c, cv := range p.centroids {
		order[c] = c
		sims[c] = vecmath.Dot(q, cv)
	}
	sort.SliceStable(order, func(i, j int) bool { return sims[order[i]] > sims[order[j]] })

	var out []int
	for _, c := range order[:nprobe] {
		out = append(out, p.lists[c]...)
	}
	return out
}
