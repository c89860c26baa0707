// Package simd holds the float32 vector primitives the accelerator backend builds its kernels on.
// Loops are unrolled by four and accumulate in float32, matching device arithmetic.
package simd

// VecAdd performs dst += src
func VecAdd(dst, src []float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// VecAddScaled performs dst += src * scale
func VecAddScaled(dst, src []float32, scale float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i] * scale
		dst[i+1] += src[i+1] * scale
		dst[i+2] += src[i+2] * scale
		dst[i+3] += src[i+3] * scale
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i] * scale
	}
}

// VecScale performs dst *= scale
func VecScale(dst []float32, scale float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] *= scale
		dst[i+1] *= scale
		dst[i+2] *= scale
		dst[i+3] *= scale
	}
	for ; i < len(dst); i++ {
		dst[i] *= scale
	}
}

// DotProduct computes the dot product of two vectors using four partial sums.
func DotProduct(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	i := 0
	for ; i <= len(a)-4; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		s0 += a[i] * b[i]
	}
	return (s0 + s1) + (s2 + s3)
}

// StridedDot computes sum_k a[k] * b[k*stride]; used for column access into row-major B.
func StridedDot(a, b []float32, stride int) float32 {
	var sum float32
	for k, v := range a {
		sum += v * b[k*stride]
	}
	return sum
}

// Sum adds the elements using four partial sums.
func Sum(x []float32) float32 {
	var s0, s1, s2, s3 float32
	i := 0
	for ; i <= len(x)-4; i += 4 {
		s0 += x[i]
		s1 += x[i+1]
		s2 += x[i+2]
		s3 += x[i+3]
	}
	for ; i < len(x); i++ {
		s0 += x[i]
	}
	return (s0 + s1) + (s2 + s3)
}

// MatVecMul performs dst = mat * vec where mat is rows x cols row-major
func MatVecMul(dst []float32, mat []float32, vec []float32, rows, cols int) {
	for i := 0; i < rows; i++ {
		rowStart := i * cols
		dst[i] = DotProduct(mat[rowStart:rowStart+cols], vec)
	}
}
